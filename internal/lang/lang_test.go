package lang

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe/internal/sym"
)

func TestForFile(t *testing.T) {
	cases := []struct {
		path string
		want string
		ok   bool
	}{
		{"main.go", "go", true},
		{"pkg/util.GO", "go", true},
		{"script.py", "python", true},
		{"app.js", "javascript", true},
		{"app.jsx", "javascript", true},
		{"mod.mjs", "javascript", true},
		{"app.ts", "typescript", true},
		{"app.tsx", "typescript", true},
		{"README.md", "", false},
		{"Makefile", "", false},
		{"noext", "", false},
	}
	for _, tc := range cases {
		got, ok := ForFile(tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.path)
		}
	}
}

func TestDetectorFor(t *testing.T) {
	for _, name := range []string{"go", "python", "javascript", "typescript"} {
		det, ok := DetectorFor(name)
		require.True(t, ok, name)
		assert.Equal(t, name, det.Language())
	}
	_, ok := DetectorFor("cobol")
	assert.False(t, ok)
}

func TestDetector_ModuleName(t *testing.T) {
	goDet, _ := DetectorFor("go")
	assert.Equal(t, "util", goDet.ModuleName("pkg/util/strings.go"), "Go modules take the directory name")
	assert.True(t, goDet.SharesModuleScope())

	pyDet, _ := DetectorFor("python")
	assert.Equal(t, "cart", pyDet.ModuleName("shop/cart.py"), "Python modules take the file stem")
	assert.False(t, pyDet.SharesModuleScope())
}

func TestDetector_Parse(t *testing.T) {
	det, _ := DetectorFor("go")

	pr, err := det.Parse(context.Background(), []byte("package p\n\nfunc f() {}\n"))
	require.NoError(t, err)
	assert.False(t, pr.Root().HasError())
	pr.Close()

	pr, err = det.Parse(context.Background(), []byte("package p\n\nfunc f( {{{\n"))
	require.NoError(t, err)
	assert.True(t, pr.Root().HasError())
	pr.Close()
}

func TestDetector_QueriesCompile(t *testing.T) {
	// Every registered language must carry a compilable pattern table.
	src := map[string]string{
		"go":         "package p\n\nfunc f() {}\n",
		"python":     "def f():\n    pass\n",
		"javascript": "function f() {}\n",
		"typescript": "function f(): void {}\n",
	}
	for name, code := range src {
		det, ok := DetectorFor(name)
		require.True(t, ok, name)
		pr, err := det.Parse(context.Background(), []byte(code))
		require.NoError(t, err, name)
		defer pr.Close()

		defs := det.ExtractDefinitions(pr)
		require.NotEmpty(t, defs, name)
		var found bool
		for _, d := range defs {
			if d.Name == "f" && d.Kind == sym.KindFunction {
				found = true
			}
		}
		assert.True(t, found, "%s: function definition captured", name)
	}
}

func TestNormalizeSource(t *testing.T) {
	cases := map[string]string{
		`"fmt"`:             "fmt",
		`"strings"`:         "strings",
		`"./api"`:           "api",
		`"./lib/helpers"`:   "helpers",
		`'../models/user'`:  "user",
		`"components/App"`:  "App",
		`"./styles.css"`:    "styles",
		"`raw/path/module`": "module",
		"plain":             "plain",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeSource(in), in)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "func f(a int) error", CollapseWhitespace("func  f(a int)\n\terror"))
	assert.Equal(t, "", CollapseWhitespace("   \n\t "))
}
