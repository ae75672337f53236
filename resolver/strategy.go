// Package resolver 根据匹配结果生成候选要素与规范要素的完整对应关系
package resolver

import (
	"fmt"
	"strings"

	"github.com/GrainArc/GeoClassify/errs"
)

// MergeStrategy 合并方式
type MergeStrategy int

const (
	// MergeNew 新集合，集合内不能有 live 要素，全部新建
	MergeNew MergeStrategy = iota + 1
	// MergeAdd 已匹配的保持不变，未匹配的新建
	MergeAdd
	// MergeUpdate 已匹配且距离超过容差的生成新版本，未匹配的新建
	MergeUpdate
	// MergeSkip 已匹配的跳过（不写几何与属性），未匹配的新建
	MergeSkip
	// MergeReplace 已匹配的全部生成新版本，未匹配的新建
	MergeReplace
)

var strategyNames = map[MergeStrategy]string{
	MergeNew:     "new",
	MergeAdd:     "add",
	MergeUpdate:  "update",
	MergeSkip:    "skip",
	MergeReplace: "replace",
}

func (s MergeStrategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("MergeStrategy(%d)", int(s))
}

// ParseMergeStrategy 解析合并方式
func ParseMergeStrategy(name string) (MergeStrategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, errs.Input(fmt.Sprintf("unknown merge strategy %q", name), nil)
}

// Action 单个候选要素的处理方式
type Action int

const (
	// ActionKeep 对应到已有规范要素，几何不变
	ActionKeep Action = iota + 1
	// ActionRevise 对应到已有规范要素并生成新版本
	ActionRevise
	// ActionMint 新建规范要素并分配新 fid
	ActionMint
	// ActionSkip 对应到已有规范要素但本次不写入
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionRevise:
		return "revise"
	case ActionMint:
		return "mint"
	case ActionSkip:
		return "skip"
	}
	return "unknown"
}
