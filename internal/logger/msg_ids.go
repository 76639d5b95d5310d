package logger

// Most non-error log messages are given a message ID so the CLI can filter
// them. Errors do not get a message ID because you cannot turn errors into
// non-errors. Internal messages use "MsgID_None".
type MsgID = uint8

const (
	MsgID_None MsgID = iota

	// Resolver
	MsgID_Resolve_ModuleNotFound
	MsgID_Resolve_InvalidPackageJSON

	// Module graph
	MsgID_Graph_CircularDependency
	MsgID_Graph_MissingImport

	// Linker
	MsgID_Link_AmbiguousExport
	MsgID_Link_UnresolvedExport
	MsgID_Link_ExportStarFromCommonJS

	// Cache
	MsgID_Cache_Corrupted
	MsgID_Cache_StoreUnavailable

	// Partial bundling
	MsgID_Bundle_RequestBudgetExceeded

	MsgID_END // Keep this at the end (used only for tests)
)

func MsgIDToString(id MsgID) string {
	switch id {
	case MsgID_Resolve_ModuleNotFound:
		return "module-not-found"
	case MsgID_Resolve_InvalidPackageJSON:
		return "invalid-package-json"
	case MsgID_Graph_CircularDependency:
		return "circular-dependency"
	case MsgID_Graph_MissingImport:
		return "missing-import"
	case MsgID_Link_AmbiguousExport:
		return "ambiguous-export"
	case MsgID_Link_UnresolvedExport:
		return "unresolved-export"
	case MsgID_Link_ExportStarFromCommonJS:
		return "export-star-from-commonjs"
	case MsgID_Cache_Corrupted:
		return "cache-corrupted"
	case MsgID_Cache_StoreUnavailable:
		return "cache-store-unavailable"
	case MsgID_Bundle_RequestBudgetExceeded:
		return "request-budget-exceeded"
	}
	return ""
}

func StringToMsgID(str string) (MsgID, bool) {
	for id := MsgID_None + 1; id < MsgID_END; id++ {
		if MsgIDToString(id) == str {
			return id, true
		}
	}
	return MsgID_None, false
}
