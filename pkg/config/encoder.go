package config

import (
	"path/filepath"
	"strings"
)

// encoderFamilyLinks is ordered: the first family whose name is a substring wins.
var encoderFamilyLinks = []struct {
	family string
	link   string
}{
	{"bert", "google-bert/bert-base-cased"},
	{"roberta", "FacebookAI/roberta-base"},
	{"t5", "google-t5/t5-base"},
	{"bart", "facebook/bart-base"},
}

// searchEncoderBase is the config the search encoder transformer starts from.
const searchEncoderBase = "bert-base-cased"

// ResolveEncoderLink maps an encoder name to its pretrained model identifier.
// A non-empty override is returned as is. The boolean is false when the name
// matches no known family.
func ResolveEncoderLink(encoderName, override string) (string, bool) {
	if override != "" {
		return override, true
	}
	name := strings.ToLower(encoderName)
	for _, f := range encoderFamilyLinks {
		if strings.Contains(name, f.family) {
			return f.link, true
		}
	}
	return "", false
}

// NameHash turns an encoder identifier into a path-safe fragment.
// The transform is stable across runs so caches and checkpoints can be reused.
func NameHash(name string) string {
	return strings.ReplaceAll(name, "/", "-")
}

// IsLocalModelPath reports whether ref names a model directory on disk rather
// than a hub repository: absolute paths and paths starting with ".", ".." or "~".
func IsLocalModelPath(ref string) bool {
	if ref == "" {
		return false
	}
	if filepath.IsAbs(ref) || ref == "." || ref == ".." {
		return true
	}
	for _, prefix := range []string{"./", "../", "~/", `.\`, `..\`} {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}
