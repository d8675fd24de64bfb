package ascapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
)

// Uploader pushes an .ipa into App Store Connect.
type Uploader interface {
	Upload(ctx context.Context, ipaPath string, key Key) error
}

// CommandUploader runs the vendor ingestion tool.
type CommandUploader struct {
	command []string
	run     func(ctx context.Context, name string, args, env []string) ([]byte, error)
}

// NewCommandUploader parses a command line such as "xcrun altool --upload-app --type ios".
func NewCommandUploader(command string) *CommandUploader {
	return &CommandUploader{command: strings.Fields(command), run: runCommand}
}

// Upload writes the API key where the tool expects it and runs the upload.
func (u *CommandUploader) Upload(ctx context.Context, ipaPath string, key Key) error {
	if len(u.command) == 0 {
		return fmt.Errorf("%w: no upload command configured", channel.ErrTransfer)
	}
	keysDir, err := os.MkdirTemp("", "asc-keys-")
	if err != nil {
		return channel.Transfer("prepare api key", err)
	}
	defer os.RemoveAll(keysDir)
	keyFile := filepath.Join(keysDir, "AuthKey_"+key.KeyID+".p8")
	if err := os.WriteFile(keyFile, []byte(key.PrivateKey), 0o600); err != nil {
		return channel.Transfer("prepare api key", err)
	}

	args := append(append([]string{}, u.command[1:]...),
		"--file", ipaPath,
		"--apiKey", key.KeyID,
		"--apiIssuer", key.IssuerID,
	)
	env := append(os.Environ(), "API_PRIVATE_KEYS_DIR="+keysDir)
	output, err := u.run(ctx, u.command[0], args, env)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyUploadFailure(err, string(output))
	}
	return nil
}

func classifyUploadFailure(err error, output string) error {
	lower := strings.ToLower(output)
	tail := strings.TrimSpace(output)
	if len(tail) > 400 {
		tail = tail[len(tail)-400:]
	}
	switch {
	case strings.Contains(lower, "authenticat") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401"):
		return fmt.Errorf("%w: ingestion tool: %s", channel.ErrAuthentication, tail)
	case strings.Contains(lower, "redundant binary") || strings.Contains(lower, "already been uploaded") || strings.Contains(lower, "bundle version must be higher"):
		return fmt.Errorf("%w: ingestion tool: %s", channel.ErrRemoteRejection, tail)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: ingestion tool exited %d: %s", channel.ErrTransfer, exitErr.ExitCode(), tail)
		}
		return fmt.Errorf("%w: ingestion tool: %w", channel.ErrTransfer, err)
	}
}

func runCommand(ctx context.Context, name string, args, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	return cmd.CombinedOutput()
}
