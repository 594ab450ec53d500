package analysis

import (
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/puzpuzpuz/xsync/v4"
)

// NameCache provides cached display names for functions. Functions with
// local linkage are qualified with their module so equally named statics
// of different modules stay distinguishable.
type NameCache struct {
	cache *xsync.Map[*ir.Func, string]
}

func NewNameCache() *NameCache {
	return &NameCache{
		cache: xsync.NewMap[*ir.Func, string](),
	}
}

// FuncName returns the display name of f defined in module.
func (c *NameCache) FuncName(f *ir.Func, module string) string {
	if f == nil {
		return ""
	}
	name, ok := c.cache.Load(f)
	if ok {
		return name
	}
	name = computeFuncName(f, module)
	c.cache.Store(f, name)
	return name
}

func computeFuncName(f *ir.Func, module string) string {
	if !IsLocal(f) || module == "" {
		return f.Name()
	}
	var builder strings.Builder
	builder.Grow(len(module) + len(f.Name()) + 1)
	builder.WriteString(module)
	builder.WriteByte(':')
	builder.WriteString(f.Name())
	return builder.String()
}
