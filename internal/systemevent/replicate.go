package systemevent

// ShouldReplicate is the replication filter: it tells the caller whether
// this SystemEvent should be forwarded to replicas/DCP, independent of
// whether it was persisted. The
// two "Delete" variants never replicate: once a collection's delete has been
// applied locally there is nothing a replica needs to be told beyond the
// manifest update it will pick up on its own.
func ShouldReplicate(se Code) bool {
	return DispositionFor(se).Replicate
}
