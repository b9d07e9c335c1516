// Package apierr implements the stable, machine-readable error taxonomy
// that every ms-manager component returns instead of ad hoc error strings.
package apierr

import "fmt"

// Code is a stable, machine-readable error identifier. Callers switch on
// Code rather than parsing Message.
type Code string

const (
	// Input
	CodeInvalidProfile     Code = "invalid_profile"
	CodePayloadRootInvalid Code = "payload_root_invalid"
	CodeInvalidChannel     Code = "invalid_channel"

	// Network
	CodeHTTPRequestFailed Code = "http_request_failed"
	CodeHTTPReadFailed    Code = "http_read_failed"
	CodeHTTPStatus        Code = "http_status"

	// Manifest
	CodeManifestJSONInvalid        Code = "manifest_json_invalid"
	CodeManifestSchemaUnsupported  Code = "manifest_schema_unsupported"
	CodeManifestChannelMismatch    Code = "manifest_channel_mismatch"
	CodeManifestTagMismatch        Code = "manifest_tag_mismatch"
	CodeManifestSigInvalid         Code = "manifest_sig_invalid"
	CodePublicKeyInvalid           Code = "public_key_invalid"
	CodeBase64Invalid              Code = "base64_invalid"

	// Install
	CodeNoReleaseAvailable       Code = "no_release_available"
	CodeNoMatchingInstallSet     Code = "no_matching_install_set"
	CodeManifestInvalidInstallSet Code = "manifest_invalid_install_set"
	CodeInstallPlanInvalid       Code = "install_plan_invalid"
	CodeInstallMissingVersion    Code = "install_missing_version"
	CodeInstallStateSchemaInvalid Code = "install_state_schema_invalid"
	CodeDowngradeRefused         Code = "downgrade_refused"
	CodeCurrentLinkFailed        Code = "current_link_failed"
	CodeZipInvalid               Code = "zip_invalid"

	// Asset
	CodeAssetInvalid        Code = "asset_invalid"
	CodeAssetSizeMismatch   Code = "asset_size_mismatch"
	CodeAssetSHA256Mismatch Code = "asset_sha256_mismatch"

	// Filesystem / process
	CodeIORead            Code = "io_read_failed"
	CodeIOWrite           Code = "io_write_failed"
	CodeIOMkdir           Code = "io_mkdir_failed"
	CodeIORename          Code = "io_rename_failed"
	CodeIORemove          Code = "io_remove_failed"
	CodeIOCopy            Code = "io_copy_failed"
	CodeIOExec            Code = "io_exec_failed"
	CodeIOInvalidPath     Code = "io_invalid_path"
	CodeIOPathFailed      Code = "io_path_failed"
	CodeProcessKillFailed Code = "process_kill_failed"
	CodePayloadRootExists Code = "payload_root_exists"
	CodePayloadRootMoveFailed Code = "payload_root_move_failed"

	// Hardware / platform
	CodeUnsupportedPlatform Code = "unsupported_platform"
	CodeLoaderMissing       Code = "loader_missing"
	CodeFirmwareMissing     Code = "firmware_missing"
	CodeFlashFailed         Code = "flash_failed"
	CodeNotInstalled        Code = "not_installed"

	// State — internal only, recovered by quarantine, never surfaced to
	// the command layer. Kept here so internal callers have one enum.
	CodeJSONParseFailed Code = "json_parse_failed"
)

// Error is the structured error every component returns.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error that wraps cause, reusing cause's message if message
// is empty.
func Wrap(code Code, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetail returns a copy of e with key=value merged into Details.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Code: e.Code, Message: e.Message, Details: details, Cause: e.Cause}
}

// Is reports whether target is an *Error with the same Code, so callers can
// do `errors.Is(err, apierr.New(apierr.CodeNotInstalled, ""))`.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
