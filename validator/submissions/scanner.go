package submissions

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// The static scanner rejects submission sources before anything is
// built: obfuscation primitives, exfiltration signatures, and process or
// network escape hatches have no legitimate use inside the offline
// sandbox.

var dangerousImports = []string{
	"subprocess", "os", "sys", "socket", "requests", "urllib", "http",
	"ftplib", "smtplib", "paramiko", "fabric", "pexpect", "pty", "ctypes",
	"multiprocessing", "threading", "asyncio", "aiohttp", "httpx",
}

var dangerousCallRe = regexp.MustCompile(
	`\b(exec|eval|compile|__import__|getattr|setattr|delattr|globals|locals|vars|input)\s*\(`)

var dangerousPatternRes = compilePatterns([]string{
	`subprocess\.(run|Popen|call)`,
	`os\.(system|popen|exec\w*)`,
	`socket\.socket`,
	`requests\.(get|post)`,
	`urllib\.request`,
	`http\.client`,
	`open\s*\([^)]*['"][wax]`,
	`__builtins__`,
	`__class__`,
	`__mro__`,
	`__subclasses__`,
})

var importRes = compileImportPatterns(dangerousImports)

// Violation is one scanner finding.
type Violation struct {
	File    string
	Line    int
	Kind    string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d: %s: %s", v.File, v.Line, v.Kind, v.Message)
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

func compileImportPatterns(modules []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, 2*len(modules))
	for _, m := range modules {
		res = append(res,
			regexp.MustCompile(`(?m)^\s*import\s+`+m+`\b`),
			regexp.MustCompile(`(?m)^\s*from\s+`+m+`\b`),
		)
	}
	return res
}

// ScanSource walks every python source file under dir and returns all
// findings. An empty result means the submission passed.
func ScanSource(dir string) ([]Violation, error) {
	var violations []Violation
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".py") {
			return nil
		}
		content, err := os.ReadFile(path) // #nosec G304 -- walking the submission workspace
		if err != nil {
			return errors.Wrapf(err, "could not read %s", path)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		violations = append(violations, scanContent(rel, string(content))...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return violations, nil
}

func scanContent(file, content string) []Violation {
	var violations []Violation
	for _, re := range importRes {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			violations = append(violations, Violation{
				File:    file,
				Line:    lineOf(content, loc[0]),
				Kind:    "dangerous_import",
				Message: strings.TrimSpace(content[loc[0]:loc[1]]),
			})
		}
	}
	for _, loc := range dangerousCallRe.FindAllStringIndex(content, -1) {
		violations = append(violations, Violation{
			File:    file,
			Line:    lineOf(content, loc[0]),
			Kind:    "dangerous_call",
			Message: strings.TrimSuffix(strings.TrimSpace(content[loc[0]:loc[1]]), "("),
		})
	}
	for _, re := range dangerousPatternRes {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			violations = append(violations, Violation{
				File:    file,
				Line:    lineOf(content, loc[0]),
				Kind:    "dangerous_pattern",
				Message: content[loc[0]:loc[1]],
			})
		}
	}
	return violations
}

func lineOf(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}

// File layout policy, checked before the content scan: a tight
// extension allowlist, size and count caps, and a required Dockerfile.

const (
	maxSubmissionFiles = 500
	maxFileBytes       = 10 << 20
	maxTotalBytes      = 100 << 20
)

var allowedExtensions = map[string]bool{
	".py": true, ".txt": true, ".md": true, ".json": true,
	".yaml": true, ".yml": true, ".toml": true, ".cfg": true,
	".ini": true, ".sh": true, ".dockerfile": true,
	".gitignore": true, ".dockerignore": true,
	".parquet": true, ".csv": true,
}

// Allowed regardless of extension.
var allowedFileNames = map[string]bool{
	"dockerfile":       true,
	"requirements.txt": true,
	"setup.py":         true,
	"pyproject.toml":   true,
}

// ValidateFiles enforces the submission layout policy over dir. Dotfiles
// and dot-directories (the clone's .git in particular) are skipped.
func ValidateFiles(dir string) ([]Violation, error) {
	var violations []Violation
	fileCount := 0
	var totalBytes int64
	sawDockerfile := false

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}

		fileCount++
		if fileCount > maxSubmissionFiles {
			violations = append(violations, Violation{
				File:    rel,
				Kind:    "too_many_files",
				Message: fmt.Sprintf("more than %d files", maxSubmissionFiles),
			})
			return errors.New("file cap exceeded")
		}
		if name == "Dockerfile" && rel == name {
			sawDockerfile = true
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		lower := strings.ToLower(name)
		if !allowedFileNames[lower] && !allowedExtensions[strings.ToLower(filepath.Ext(name))] {
			violations = append(violations, Violation{
				File:    rel,
				Kind:    "disallowed_extension",
				Message: fmt.Sprintf("extension %q is not allowed", filepath.Ext(name)),
			})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return errors.Wrapf(err, "could not stat %s", rel)
		}
		if info.Size() > maxFileBytes {
			violations = append(violations, Violation{
				File:    rel,
				Kind:    "file_too_large",
				Message: fmt.Sprintf("%d bytes exceeds the %d byte cap", info.Size(), int64(maxFileBytes)),
			})
		}
		totalBytes += info.Size()
		return nil
	})
	if err != nil && len(violations) == 0 {
		return nil, err
	}

	if totalBytes > maxTotalBytes {
		violations = append(violations, Violation{
			Kind:    "total_size_exceeded",
			Message: fmt.Sprintf("%d bytes exceeds the %d byte cap", totalBytes, int64(maxTotalBytes)),
		})
	}
	if !sawDockerfile {
		violations = append(violations, Violation{
			File:    "Dockerfile",
			Kind:    "missing_required_file",
			Message: "submission has no Dockerfile at its root",
		})
	}
	return violations, nil
}

// Dockerfile policy.

var forbiddenDockerfileRes = compilePatterns([]string{
	`(?i)--privileged`,
	`(?i)--cap-add`,
	`(?i)--security-opt.*unconfined`,
	`(?i)host\.docker\.internal`,
	`(?i)docker\.sock`,
	`SYS_ADMIN`,
	`SYS_PTRACE`,
	`NET_ADMIN`,
	`(?i)--net=host`,
	`(?i)--network=host`,
	`(?i)--pid=host`,
	`(?i)--ipc=host`,
})

var allowedBaseImageRes = compilePatterns([]string{
	`^python:[0-9]+\.[0-9]+$`,
	`^python:[0-9]+\.[0-9]+-slim`,
	`^python:[0-9]+\.[0-9]+-alpine`,
})

// ValidateDockerfile enforces the image policy: no privileged or host
// escapes, a base image from the allowlist, and a USER directive so the
// container does not run as root.
func ValidateDockerfile(path string) ([]Violation, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path inside the submission workspace
	if err != nil {
		return nil, errors.Wrap(err, "could not read Dockerfile")
	}
	content := string(raw)
	var violations []Violation

	for _, re := range forbiddenDockerfileRes {
		if loc := re.FindStringIndex(content); loc != nil {
			violations = append(violations, Violation{
				File:    "Dockerfile",
				Line:    lineOf(content, loc[0]),
				Kind:    "forbidden_instruction",
				Message: content[loc[0]:loc[1]],
			})
		}
	}

	lines := strings.Split(content, "\n")
	var sawFrom, sawUser bool
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		if strings.HasPrefix(upper, "USER ") {
			sawUser = true
		}
		fields := strings.Fields(trimmed)
		if !sawFrom && strings.HasPrefix(upper, "FROM ") && len(fields) >= 2 {
			sawFrom = true
			image := fields[1]
			allowed := false
			for _, re := range allowedBaseImageRes {
				if re.MatchString(image) {
					allowed = true
					break
				}
			}
			if !allowed {
				violations = append(violations, Violation{
					File:    "Dockerfile",
					Line:    i + 1,
					Kind:    "disallowed_base_image",
					Message: image,
				})
			}
		}
	}
	if !sawFrom {
		violations = append(violations, Violation{File: "Dockerfile", Kind: "missing_from", Message: "no FROM instruction"})
	}
	if !sawUser {
		violations = append(violations, Violation{File: "Dockerfile", Kind: "missing_user", Message: "no USER directive, container would run as root"})
	}
	return violations, nil
}
