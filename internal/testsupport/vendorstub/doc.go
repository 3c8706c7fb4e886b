// Package vendorstub hosts a deterministic HTTP fake of the photo-frame
// backend for integration tests. The helpers here simulate login, frame and
// asset reads, placeholder selection, metadata batch updates, and the image
// proxy without touching the network, enabling end-to-end client tests to
// assert request sequences and auth headers.
package vendorstub
