// Package errs 入库流程的错误分类
package errs

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// InputError 输入数据有误（空数据集、几何类型不支持等），不会修改任何库内数据
type InputError struct {
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input error: %s: %v", e.Reason, e.Err)
	}
	return "input error: " + e.Reason
}

func (e *InputError) Unwrap() error { return e.Err }

// Input 构造输入错误
func Input(reason string, err error) error {
	return &InputError{Reason: reason, Err: err}
}

// InvariantViolation 内部不变量被破坏（重复的 live fid、对应关系没有覆盖所有候选要素），不可重试
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Detail
}

// Invariant 构造不变量错误
func Invariant(format string, args ...interface{}) error {
	return &InvariantViolation{Detail: fmt.Sprintf(format, args...)}
}

// ExternalProviderError 空间引擎或格式转换失败
// Transient 为 true 时由流程层按退避策略重试，否则文件被标记为损坏
type ExternalProviderError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *ExternalProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, kind, e.Err)
}

func (e *ExternalProviderError) Unwrap() error { return e.Err }

// External 构造外部依赖错误，transient 根据底层错误自动判断
func External(provider string, err error) error {
	return &ExternalProviderError{Provider: provider, Transient: looksTransient(err), Err: err}
}

// Permanent 构造不可重试的外部依赖错误
func Permanent(provider string, err error) error {
	return &ExternalProviderError{Provider: provider, Transient: false, Err: err}
}

// IsInput 是否输入错误
func IsInput(err error) bool {
	var e *InputError
	return errors.As(err, &e)
}

// IsInvariant 是否不变量错误
func IsInvariant(err error) bool {
	var e *InvariantViolation
	return errors.As(err, &e)
}

// IsTransient 是否可重试
func IsTransient(err error) bool {
	var e *ExternalProviderError
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}

// IsPermanentProvider 是否不可重试的外部依赖错误
func IsPermanentProvider(err error) bool {
	var e *ExternalProviderError
	if errors.As(err, &e) {
		return !e.Transient
	}
	return false
}

func looksTransient(err error) bool {
	if err == nil {
		return false
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn)
}
