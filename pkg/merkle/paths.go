package merkle

// StatePathFor derives a cache file's companion .mrkl state path by
// appending ".mrkl" to the full cache path, mirroring how a .mref
// reference sits alongside its content file as "<cachePath>.mref" (see
// the persisted state layout: "<root>/data.fvec" pairs with
// "<root>/data.fvec.mref" and "<root>/data.fvec.mrkl", not
// "<root>/data.mrkl").
func StatePathFor(cachePath string) string {
	return cachePath + ".mrkl"
}
