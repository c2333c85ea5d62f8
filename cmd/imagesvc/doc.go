/*
Package main 提供 imagesvc 服务端程序入口。

# 概述

cmd/imagesvc 是涂色图生成服务的可执行入口，提供 HTTP API 服务、
缓存清理、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集与 OpenTelemetry 追踪。

# 核心类型

  - Server     — 主服务器，组装缓存/存储/提供商并管理 HTTP、Metrics 双端口
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、cleanup（清理过期缓存）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、MetricsMiddleware、CORS、RateLimiter（基于 IP）
  - 按配置注册提供商：未配置 API Key 的提供商自动跳过
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 关闭存储依赖
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
