// Package version 提供 gemkit 的构建版本信息。
// 优先使用 -ldflags 注入的值；未注入时回退到 Go 工具链写入二进制的 vcs 信息。
//
// 注入示例：
//
//	go build -ldflags "-X github.com/lgc202/gemkit/version.gitVersion=v1.2.3 \
//	  -X github.com/lgc202/gemkit/version.gitCommit=$(git rev-parse HEAD)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/gosuri/uitable"
	"gopkg.in/yaml.v3"
)

const unknownVersion = "v0.0.0-dev"

var (
	// gitVersion 是语义化的版本号，格式为 vMAJOR.MINOR.PATCH[-PRERELEASE][+BUILD]
	gitVersion = ""
	// buildDate 是 ISO8601 格式的构建时间, $(date -u +'%Y-%m-%dT%H:%M:%SZ') 命令的输出
	buildDate = ""
	// gitCommit 是 Git 的 SHA1 值，$(git rev-parse HEAD) 命令的输出
	gitCommit = ""
	// gitTreeState 代表构建时 Git 仓库的状态，值为 clean 或 dirty
	gitTreeState = ""

	// readBuildInfo 便于测试替换
	readBuildInfo = debug.ReadBuildInfo
)

// Info 包含了版本信息
type Info struct {
	GitVersion   string `json:"gitVersion" yaml:"gitVersion"`
	GitCommit    string `json:"gitCommit" yaml:"gitCommit"`
	GitTreeState string `json:"gitTreeState,omitempty" yaml:"gitTreeState,omitempty"`
	BuildDate    string `json:"buildDate" yaml:"buildDate"`
	GoVersion    string `json:"goVersion" yaml:"goVersion"`
	Platform     string `json:"platform" yaml:"platform"`
}

// String 返回版本号，工作区有未提交改动时追加 -dirty
func (info Info) String() string {
	if info.GitTreeState == "dirty" {
		return info.GitVersion + "-dirty"
	}
	return info.GitVersion
}

// ShortCommit 返回前 7 位提交号
func (info Info) ShortCommit() string {
	if len(info.GitCommit) > 7 {
		return info.GitCommit[:7]
	}
	return info.GitCommit
}

// Text 以对齐的表格形式返回版本信息
func (info Info) Text() string {
	table := uitable.New()
	table.RightAlign(0)
	table.MaxColWidth = 80
	table.Separator = " "
	table.AddRow("gitVersion:", info.GitVersion)
	if info.GitCommit != "" {
		table.AddRow("gitCommit:", info.GitCommit)
	}
	if info.GitTreeState != "" {
		table.AddRow("gitTreeState:", info.GitTreeState)
	}
	if info.BuildDate != "" {
		table.AddRow("buildDate:", info.BuildDate)
	}
	table.AddRow("goVersion:", info.GoVersion)
	table.AddRow("platform:", info.Platform)
	return table.String()
}

// Render 按格式输出：text（默认）、short、json、yaml
func (info Info) Render(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return info.Text(), nil
	case "short":
		return info.String(), nil
	case "json":
		b, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal version info: %w", err)
		}
		return string(b), nil
	case "yaml":
		b, err := yaml.Marshal(info)
		if err != nil {
			return "", fmt.Errorf("failed to marshal version info: %w", err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

// UserAgent 返回形如 "gemkit/v1.2.3 (go1.24.1; linux/amd64)" 的 User-Agent
func UserAgent(product string) string {
	info := Get()
	return fmt.Sprintf("%s/%s (%s; %s)", product, info.GitVersion, info.GoVersion, info.Platform)
}

// Get 返回当前二进制的版本信息
func Get() Info {
	info := Info{
		GitVersion:   gitVersion,
		GitCommit:    gitCommit,
		GitTreeState: gitTreeState,
		BuildDate:    buildDate,
		GoVersion:    runtime.Version(),
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	fillFromBuildInfo(&info)
	if info.GitVersion == "" {
		info.GitVersion = unknownVersion
	}
	return info
}

// fillFromBuildInfo 只补全 ldflags 没有注入的字段
func fillFromBuildInfo(info *Info) {
	bi, ok := readBuildInfo()
	if !ok || bi == nil {
		return
	}
	if info.GitVersion == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.GitVersion = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			if info.GitTreeState == "" {
				if s.Value == "true" {
					info.GitTreeState = "dirty"
				} else {
					info.GitTreeState = "clean"
				}
			}
		}
	}
}
