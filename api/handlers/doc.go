/*
Package handlers 提供 imagesvc HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 imagesvc 所有 HTTP 端点的请求处理逻辑，
包括涂色图生成、图库查询、缓存运维、提供商管理与健康检查，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - ImageHandler     — 图像生成处理器（生成、自定义提示词、缓存预检）
  - GalleryHandler   — 图库查询与访问计数埋点
  - AdminHandler     — 提供商注册表与缓存统计/清理
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（数据库、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 提供商链耗尽时返回 502 并附带各提供商的失败明细
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
