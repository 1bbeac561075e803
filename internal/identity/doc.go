// Package identity loads the provisioned device credential pair.
//
// Provisioning itself (the short-range key exchange that writes the file)
// is a separate flow outside this repository's scope; everything here
// treats the pair as an opaque, immutable value loaded once at startup and
// injected into the components that need it.
package identity
