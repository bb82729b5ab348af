// Package database 定义了数据库相关的模型和结构体
// 包含文件引用、请求台账、分组记录、缓存文件和存储位置等核心数据模型
package database

// 此文件保留作为数据库模型包的入口文件
// 具体的模型定义已拆分到以下文件：
// - reference_models.go: 文件引用模型（FileReference）
// - request_models.go: 请求台账模型（StorageRequest, DeletionRequest, CacheRequest, CopyRequest）
// - group_models.go: 分组模型（RequestGroup, GroupMember）
// - cache_models.go: 缓存模型（CacheFile）
// - storage_models.go: 存储位置模型（StorageLocation）
