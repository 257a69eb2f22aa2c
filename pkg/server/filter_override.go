package server

import (
	"net/http"
	"strings"
)

const (
	FilterTypeMethodOverride = "MethodOverrideFilter"
	HeaderMethodOverride     = "X-HTTP-Method-Override"
)

// MethodOverrideFilter lets clients behind proxies that drop PATCH and
// DELETE tunnel them through POST.
type MethodOverrideFilter struct{}

func NewMethodOverrideFilter() *MethodOverrideFilter {
	return &MethodOverrideFilter{}
}

func (f *MethodOverrideFilter) Run(d *Data) (Response, error) {
	if d.Req.Method != http.MethodPost {
		return Next{}, nil
	}
	if m := strings.ToUpper(strings.TrimSpace(d.Req.Header.Get(HeaderMethodOverride))); m != "" {
		d.Method = m
	}
	return Next{}, nil
}

func (f *MethodOverrideFilter) Type() string {
	return FilterTypeMethodOverride
}
