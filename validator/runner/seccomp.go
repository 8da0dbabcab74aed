package runner

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// deniedSyscalls are rejected inside the sandbox regardless of image
// contents. The filter is part of the security contract: a run that
// cannot apply it must not start.
var deniedSyscalls = []string{
	"mount",
	"umount2",
	"ptrace",
	"kexec_load",
	"kexec_file_load",
	"reboot",
	"init_module",
	"finit_module",
	"delete_module",
	"clock_settime",
	"clock_settime64",
	"settimeofday",
	"pivot_root",
	"bpf",
	"userfaultfd",
	"unshare",
	"setns",
	"open_by_handle_at",
}

type seccompProfile struct {
	DefaultAction string        `json:"defaultAction"`
	Syscalls      []seccompRule `json:"syscalls"`
}

type seccompRule struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

// SeccompProfile renders the sandbox syscall filter as the JSON document
// docker expects in a security-opt entry.
func SeccompProfile() (string, error) {
	profile := seccompProfile{
		DefaultAction: "SCMP_ACT_ALLOW",
		Syscalls: []seccompRule{
			{Names: deniedSyscalls, Action: "SCMP_ACT_ERRNO"},
		},
	}
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(profile)
	if err != nil {
		return "", errors.Wrap(err, "could not render seccomp profile")
	}
	return string(raw), nil
}
