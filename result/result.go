// Package result defines the closed set of outcomes a build run can end
// with, mirroring the exit taxonomy of a content build engine.
package result

// Code is the outcome of a single engine run.
type Code int

const (
	Success Code = iota
	ErrorProjectDuplicateTargets
	ErrorProjectVisibleTargetNotFound
	ErrorPlatformConfigurationNotFound
	ErrorPlatformConfigurationIoError
	ErrorPlatformConfigurationUnknownEntryFile
	ErrorPlatformConfigurationUnknownLayer
	ErrorPlatformConfigurationDuplicateLayer
	ErrorPlatformConfigurationDuplicateType
	ErrorWorkspaceCleanupFailed
	ErrorWorkspaceCannotMakeDirectory
	ErrorLogCannotBeOpened
	ErrorLogIoError
	ErrorRawResourceScanFailed
	ErrorBuildFailed
	ErrorPackFailed
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case ErrorProjectDuplicateTargets:
		return "error_project_duplicate_targets"
	case ErrorProjectVisibleTargetNotFound:
		return "error_project_visible_target_not_found"
	case ErrorPlatformConfigurationNotFound:
		return "error_platform_configuration_not_found"
	case ErrorPlatformConfigurationIoError:
		return "error_platform_configuration_io_error"
	case ErrorPlatformConfigurationUnknownEntryFile:
		return "error_platform_configuration_unknown_entry_file"
	case ErrorPlatformConfigurationUnknownLayer:
		return "error_platform_configuration_unknown_layer"
	case ErrorPlatformConfigurationDuplicateLayer:
		return "error_platform_configuration_duplicate_layer"
	case ErrorPlatformConfigurationDuplicateType:
		return "error_platform_configuration_duplicate_type"
	case ErrorWorkspaceCleanupFailed:
		return "error_workspace_cleanup_failed"
	case ErrorWorkspaceCannotMakeDirectory:
		return "error_workspace_cannot_make_directory"
	case ErrorLogCannotBeOpened:
		return "error_log_cannot_be_opened"
	case ErrorLogIoError:
		return "error_log_io_error"
	case ErrorRawResourceScanFailed:
		return "error_raw_resource_scan_failed"
	case ErrorBuildFailed:
		return "error_build_failed"
	case ErrorPackFailed:
		return "error_pack_failed"
	default:
		return "unknown_result"
	}
}
