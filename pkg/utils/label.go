package utils

import (
	"slices"
	"strings"
)

const (
	valueSep  = "|"
	sourceSep = ","
)

// Label 记录候选在链路中被打上的解释信息，例如召回来源、排序模型、哨兵分标记。
// Value 多值以 '|' 分隔，Source 多值以 ',' 分隔。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"` // recall / rank / filter ...
}

func NewLabel(value, source string) Label {
	return Label{Value: value, Source: source}
}

// Values 返回累积的全部取值。
func (l Label) Values() []string { return splitNonEmpty(l.Value, valueSep) }

// Sources 返回累积的全部写入方。
func (l Label) Sources() []string { return splitNonEmpty(l.Source, sourceSep) }

// Has 判断 Value 中是否包含 v。
func (l Label) Has(v string) bool { return slices.Contains(l.Values(), v) }

// MergeLabel 合并同名 Label：保留已有取值，追加新的取值，重复的取值与来源只保留一次。
func MergeLabel(existing Label, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}
	return Label{
		Value:  appendUnique(existing.Value, incoming.Value, valueSep),
		Source: appendUnique(existing.Source, incoming.Source, sourceSep),
	}
}

func appendUnique(base, add, sep string) string {
	parts := splitNonEmpty(base, sep)
	for _, p := range splitNonEmpty(add, sep) {
		if !slices.Contains(parts, p) {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, sep)
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
