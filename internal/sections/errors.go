package sections

import "errors"

// 业务错误分类。所有公开操作只返回这些哨兵（校验错误除外，
// 见 validate.Error），调用方按类别映射 HTTP 状态。
var (
	// ErrNotAuthenticated 表示调用方没有可用身份。
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFound 同时覆盖“简历不存在”与“简历不属于调用方”，
	// 避免通过响应差异探测资源存在性。
	ErrNotFound = errors.New("resume not found")

	// ErrInvalidReorderSet 表示重排 id 集合与分区现有 id 集合不一致。
	ErrInvalidReorderSet = errors.New("reorder set does not match partition")

	// ErrPersistence 包装未预期的存储层失败，原始错误通过 errors.Join 保留。
	ErrPersistence = errors.New("persistence failed")
)
