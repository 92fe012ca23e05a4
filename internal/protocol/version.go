package protocol

// SupportedVersions lists the protocol versions this server understands,
// in ascending order. Bump by appending, never by removing — old clients
// must keep negotiating successfully against a newer server.
var SupportedVersions = []uint16{1}

// NegotiateVersion picks the highest version present in both clientVersions
// and [SupportedVersions]. Returns false if there is no overlap.
func NegotiateVersion(clientVersions []uint16) (uint16, bool) {
	supported := make(map[uint16]bool, len(SupportedVersions))
	for _, v := range SupportedVersions {
		supported[v] = true
	}

	best := uint16(0)
	found := false
	for _, v := range clientVersions {
		if supported[v] && (!found || v > best) {
			best = v
			found = true
		}
	}
	return best, found
}
