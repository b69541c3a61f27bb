package fs

import (
	"path/filepath"
	"strings"
)

// Language tags attached to chunks.
const (
	LangGo         = "go"
	LangTypeScript = "typescript"
	LangJavaScript = "javascript"
	LangPython     = "python"
	LangRust       = "rust"
	LangJava       = "java"
	LangC          = "c"
	LangCPP        = "cpp"
	LangCSharp     = "csharp"
	LangRuby       = "ruby"
	LangPHP        = "php"
	LangSwift      = "swift"
	LangKotlin     = "kotlin"
	LangShell      = "shell"
	LangLua        = "lua"
	LangSQL        = "sql"
	LangHTML       = "html"
	LangCSS        = "css"
	LangVue        = "vue"
	LangSvelte     = "svelte"
	LangJSON       = "json"
	LangYAML       = "yaml"
	LangTOML       = "toml"
	LangXML        = "xml"
	LangMarkdown   = "markdown"

	// LangText is the tag for anything the tables below do not know.
	LangText = "text"
)

var (
	extToLang = map[string]string{
		".go": LangGo,

		".ts":  LangTypeScript,
		".tsx": LangTypeScript,
		".mts": LangTypeScript,
		".cts": LangTypeScript,
		".js":  LangJavaScript,
		".jsx": LangJavaScript,
		".mjs": LangJavaScript,
		".cjs": LangJavaScript,

		".py":    LangPython,
		".rs":    LangRust,
		".java":  LangJava,
		".c":     LangC,
		".h":     LangC,
		".cc":    LangCPP,
		".cpp":   LangCPP,
		".hpp":   LangCPP,
		".cs":    LangCSharp,
		".rb":    LangRuby,
		".php":   LangPHP,
		".swift": LangSwift,
		".kt":    LangKotlin,
		".kts":   LangKotlin,
		".lua":   LangLua,

		".sh":   LangShell,
		".bash": LangShell,
		".zsh":  LangShell,

		".sql": LangSQL,

		".html":   LangHTML,
		".htm":    LangHTML,
		".css":    LangCSS,
		".scss":   LangCSS,
		".less":   LangCSS,
		".vue":    LangVue,
		".svelte": LangSvelte,

		".json":  LangJSON,
		".jsonc": LangJSON,
		".yaml":  LangYAML,
		".yml":   LangYAML,
		".toml":  LangTOML,
		".xml":   LangXML,

		".md":       LangMarkdown,
		".mdx":      LangMarkdown,
		".markdown": LangMarkdown,
	}

	filenameToLang = map[string]string{
		"Makefile":    LangShell,
		"makefile":    LangShell,
		"Dockerfile":  LangShell,
		"Jenkinsfile": LangShell,
		"Rakefile":    LangRuby,
		"Gemfile":     LangRuby,
	}
)

// DetectLanguage determines the language tag of a file from its name.
func DetectLanguage(path string) string {
	filename := filepath.Base(path)

	if lang, ok := filenameToLang[filename]; ok {
		return lang
	}

	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extToLang[ext]; ok {
		return lang
	}

	return LangText
}
