package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe/internal/lang"
	"loupe/internal/sym"
)

func extractSrc(t *testing.T, language, path, src string) *File {
	t.Helper()
	det, ok := lang.DetectorFor(language)
	require.True(t, ok, "no detector for %s", language)
	return Extract(context.Background(), det, path, []byte(src))
}

func findDef(f *File, name string, kind sym.Kind) *Definition {
	for i := range f.Defs {
		if f.Defs[i].Name == name && f.Defs[i].Kind == kind {
			return &f.Defs[i]
		}
	}
	return nil
}

const goSample = `package shop

import (
	"fmt"
	str "strings"
)

var Catalog = "default"

type Server struct {
	addr string
}

func (s *Server) Start() error {
	if s.addr == "" {
		return fmt.Errorf("no addr")
	}
	return nil
}

func Greet(name string) string {
	msg := str.ToUpper(name)
	return msg
}
`

func TestExtract_GoDefinitions(t *testing.T) {
	f := extractSrc(t, "go", "svc/server.go", goSample)
	require.False(t, f.ParseError)

	fn := findDef(f, "Greet", sym.KindFunction)
	require.NotNil(t, fn)
	assert.Equal(t, sym.Public, fn.Visibility)
	assert.Equal(t, "shop.Greet", fn.QualifiedName)
	assert.Equal(t, 0, fn.Scope, "top-level function binds in the module scope")
	assert.NotEmpty(t, fn.BodyTokens)
	assert.Contains(t, fn.Signature, "Greet")

	typ := findDef(f, "Server", sym.KindType)
	require.NotNil(t, typ)
	assert.Equal(t, "shop.Server", typ.QualifiedName)

	v := findDef(f, "Catalog", sym.KindVariable)
	require.NotNil(t, v)
	assert.Equal(t, 0, v.Scope)
}

func TestExtract_GoReceiverMethod(t *testing.T) {
	f := extractSrc(t, "go", "svc/server.go", goSample)

	m := findDef(f, "Start", sym.KindMethod)
	require.NotNil(t, m)
	assert.Equal(t, "shop.Server.Start", m.QualifiedName)
	assert.Greater(t, m.Branches, 0, "the if statement counts as a branch")
}

func TestExtract_ModuleFromPackageClause(t *testing.T) {
	// The package clause wins over the directory name.
	f := extractSrc(t, "go", "cmd/tool/main.go", "package main\n\nfunc run() {}\n")
	assert.Equal(t, "main", f.Module)

	ns := findDef(f, "main", sym.KindNamespace)
	require.NotNil(t, ns)
	assert.Equal(t, "main", ns.QualifiedName)
}

func TestExtract_GoImports(t *testing.T) {
	f := extractSrc(t, "go", "svc/server.go", goSample)

	fmtImp := findDef(f, "fmt", sym.KindImport)
	require.NotNil(t, fmtImp)
	assert.Equal(t, "fmt", fmtImp.ImportTarget)
	assert.True(t, fmtImp.IsModuleBinding)
	assert.Equal(t, 0, fmtImp.Scope)

	// Aliased import binds the alias, targeting the real module.
	alias := findDef(f, "str", sym.KindImport)
	require.NotNil(t, alias)
	assert.Equal(t, "strings", alias.ImportTarget)
	assert.True(t, alias.IsModuleBinding)
}

func TestExtract_GoReferences(t *testing.T) {
	f := extractSrc(t, "go", "svc/server.go", goSample)

	var calls []Reference
	for _, r := range f.Refs {
		if r.IsCall {
			calls = append(calls, r)
		}
	}
	require.NotEmpty(t, calls)

	var sawErrorf, sawToUpper bool
	for _, c := range calls {
		if c.Name == "Errorf" && c.Qualifier == "fmt" {
			sawErrorf = true
		}
		if c.Name == "ToUpper" && c.Qualifier == "str" {
			sawToUpper = true
		}
	}
	assert.True(t, sawErrorf, "qualified call fmt.Errorf recorded")
	assert.True(t, sawToUpper, "qualified call str.ToUpper recorded")
}

func TestExtract_ChainedSelectorCallIsDynamic(t *testing.T) {
	src := `package p

import "fmt"

type box struct{ inner worker }

func run(b box) {
	b.inner.Do()
	fmt.Println("x")
}
`
	f := extractSrc(t, "go", "p/a.go", src)

	var do, println *Reference
	for i := range f.Refs {
		switch f.Refs[i].Name {
		case "Do":
			do = &f.Refs[i]
		case "Println":
			println = &f.Refs[i]
		}
	}
	require.NotNil(t, do)
	assert.True(t, do.IsCall)
	assert.True(t, do.IsDynamic, "call through a selector chain is dynamic")
	assert.Empty(t, do.Qualifier)

	require.NotNil(t, println)
	assert.True(t, println.IsCall)
	assert.False(t, println.IsDynamic, "a module-qualified call keeps its qualifier")
	assert.Equal(t, "fmt", println.Qualifier)
}

func TestExtract_ReferenceScopes(t *testing.T) {
	src := `package p

func outer() {
	x := 1
	use(x)
}
`
	f := extractSrc(t, "go", "p/a.go", src)

	var useRef *Reference
	for i := range f.Refs {
		if f.Refs[i].Name == "use" && f.Refs[i].IsCall {
			useRef = &f.Refs[i]
		}
	}
	require.NotNil(t, useRef)
	assert.NotEqual(t, 0, useRef.Scope, "call inside a function body is not in module scope")

	// The local binds inside the function, not at module level.
	local := findDef(f, "x", sym.KindVariable)
	require.NotNil(t, local)
	assert.NotEqual(t, 0, local.Scope)
}

func TestExtract_DefNameNotSelfReference(t *testing.T) {
	f := extractSrc(t, "go", "p/a.go", "package p\n\nfunc lonely() {}\n")
	for _, r := range f.Refs {
		assert.NotEqual(t, "lonely", r.Name, "definition name must not appear as a reference")
	}
}

func TestExtract_ParseErrorStillPartial(t *testing.T) {
	src := "package broken\n\nfunc ok() {}\n\nfunc bad( {{{\n"
	f := extractSrc(t, "go", "p/broken.go", src)

	assert.True(t, f.ParseError)
	assert.NotNil(t, findDef(f, "ok", sym.KindFunction), "recoverable definitions survive")
	assert.Equal(t, "broken", f.Module)
}

func TestExtract_DeterministicAcrossRuns(t *testing.T) {
	f1 := extractSrc(t, "go", "svc/server.go", goSample)
	f2 := extractSrc(t, "go", "svc/server.go", goSample)

	require.Equal(t, len(f1.Defs), len(f2.Defs))
	for i := range f1.Defs {
		assert.Equal(t, f1.Defs[i], f2.Defs[i])
	}
	assert.Equal(t, f1.Refs, f2.Refs)
	assert.Equal(t, f1.ContentHash, f2.ContentHash)
}

func TestExtract_Python(t *testing.T) {
	src := `import os
from json import loads as parse

class Cart:
    def total(self):
        return sum(self.items)

def checkout(cart):
    data = parse("{}")
    return Cart()
`
	f := extractSrc(t, "python", "shop/cart.py", src)
	require.False(t, f.ParseError)
	assert.Equal(t, "cart", f.Module)

	cls := findDef(f, "Cart", sym.KindType)
	require.NotNil(t, cls)
	assert.Equal(t, "cart.Cart", cls.QualifiedName)

	m := findDef(f, "total", sym.KindMethod)
	require.NotNil(t, m)
	assert.Equal(t, "cart.Cart.total", m.QualifiedName)

	imp := findDef(f, "parse", sym.KindImport)
	require.NotNil(t, imp)
	assert.Equal(t, "json.loads", imp.ImportTarget)
	assert.False(t, imp.IsModuleBinding)

	osImp := findDef(f, "os", sym.KindImport)
	require.NotNil(t, osImp)
	assert.True(t, osImp.IsModuleBinding)
}

func TestExtract_TypeScript(t *testing.T) {
	src := `import { fetchUser } from "./api";

export interface User {
  id: number;
}

export function loadUser(id: number): Promise<User> {
  return fetchUser(id);
}
`
	f := extractSrc(t, "typescript", "src/user.ts", src)
	require.False(t, f.ParseError)
	assert.Equal(t, "user", f.Module)

	iface := findDef(f, "User", sym.KindType)
	require.NotNil(t, iface)

	fn := findDef(f, "loadUser", sym.KindFunction)
	require.NotNil(t, fn)
	assert.Equal(t, sym.Public, fn.Visibility)

	imp := findDef(f, "fetchUser", sym.KindImport)
	require.NotNil(t, imp)
	assert.Equal(t, "api.fetchUser", imp.ImportTarget)
}

func TestContentHash_Stable(t *testing.T) {
	h1 := ContentHash([]byte("hello"))
	h2 := ContentHash([]byte("hello"))
	h3 := ContentHash([]byte("hello!"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestEnclosingDef(t *testing.T) {
	f := extractSrc(t, "go", "svc/server.go", goSample)

	fn := findDef(f, "Greet", sym.KindFunction)
	require.NotNil(t, fn)

	idx := f.EnclosingDef(fn.StartByte + 1)
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "Greet", f.Defs[idx].Name)

	assert.Equal(t, -1, f.EnclosingDef(0), "package clause is not inside a function")
}

func TestCache_RoundTrip(t *testing.T) {
	c, err := NewCache(4)
	require.NoError(t, err)

	f := extractSrc(t, "go", "p/a.go", "package p\n\nfunc f() {}\n")
	c.Add(f)

	got, ok := c.Get("p/a.go", f.ContentHash)
	require.True(t, ok)
	assert.Same(t, f, got)

	_, ok = c.Get("p/a.go", "otherhash")
	assert.False(t, ok)

	_, ok = c.Get("p/b.go", f.ContentHash)
	assert.False(t, ok, "same content under a different path is a different entry")
}
