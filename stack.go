package txsample

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/go-stack/stack"
)

// Frame is a single call in a captured backtrace.
type Frame struct {
	Function string `json:"function"`
	FileLine string `json:"fileline"`
}

// captureStack returns up to max frames of the calling goroutine's stack,
// starting skip frames above the caller of captureStack's caller. Runtime
// frames are trimmed.
func captureStack(skip, max int) []Frame {
	// cs[0] is captureStack, cs[1] is the sampler method.
	cs := stack.Trace().TrimRuntime()

	begin := 2 + skip
	if begin >= len(cs) {
		return nil
	}
	cs = cs[begin:]
	if len(cs) > max {
		cs = cs[:max]
	}

	frames := make([]Frame, len(cs))
	for i, c := range cs {
		fr := c.Frame()
		frames[i] = Frame{
			Function: funcNameOnly(fr.Function),
			FileLine: pkgFilePath(&fr) + ":" + strconv.Itoa(fr.Line),
		}
	}
	return frames
}

func pkgFilePath(frame *runtime.Frame) string {
	pre := pkgPrefix(frame.Function)
	post := pathSuffix(frame.File)
	if pre == "" {
		return post
	}
	return pre + "/" + post
}

func pkgPrefix(funcName string) string {
	const pathSep = "/"
	end := strings.LastIndex(funcName, pathSep)
	if end == -1 {
		return ""
	}
	return funcName[:end]
}

func pathSuffix(path string) string {
	const pathSep = "/"
	lastSep := strings.LastIndex(path, pathSep)
	if lastSep == -1 {
		return path
	}
	return path[strings.LastIndex(path[:lastSep], pathSep)+1:]
}

func funcNameOnly(name string) string {
	const pathSep = "/"
	if i := strings.LastIndex(name, pathSep); i != -1 {
		name = name[i+len(pathSep):]
	}
	const pkgSep = "."
	if i := strings.Index(name, pkgSep); i != -1 {
		name = name[i+len(pkgSep):]
	}
	return name
}
