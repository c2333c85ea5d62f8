/*
包 database 提供基于 GORM 的缓存数据库连接管理，支持多驱动打开、
连接池调优与后台健康检查。

# 概述

本包通过 Open 按配置驱动（postgres/mysql/sqlite）打开 GORM 连接，
PoolManager 封装底层 sql.DB 的连接池配置，统一管理连接生命周期、
空闲回收与最大连接数限制。后台健康检查定时探活，异常时通过 zap
日志输出诊断信息。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期与健康检查间隔。
*/
package database
