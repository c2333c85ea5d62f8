/*
Package types 提供 imagesvc 的全局共享类型定义。

# 概述

types 是服务最底层的公共包，不依赖任何内部包，为 image、api、config 等
上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - GenerationRequest / GenerationResult — 服务层生成请求与聚合结果
  - ImageRequest / ImageResponse         — 提供商生成请求与单次输出
  - ImageOptions                         — 尺寸、质量等生成选项
  - Difficulty                           — 线稿复杂度枚举（easy / medium / hard）
  - Error / ErrorCode                    — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 错误处理

所有提供商与服务层错误均以 *types.Error 形式向上传播：

	err := types.NewError(types.ErrProviderTimeout, "poll budget exhausted").
		WithRetryable(true).
		WithProvider("modelscope")

api 层通过 GetErrorCode 将错误码映射为 HTTP 状态码。
*/
package types
