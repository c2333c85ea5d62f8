// Package config 提供 imagesvc 的配置管理功能。
//
// 支持默认值、YAML 配置文件与环境变量三层加载（环境变量优先级最高），
// 并在加载后执行配置校验（端口、缓存后端、存储后端等）。
package config
