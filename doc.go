// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package zipcore reads and writes archives in the PKZIP container format,
including the ZIP64 extensions that lift the classic 32-bit limits on
per-entry size, archive size, and entry count.

A Reader locates and parses the on-disk central directory once, then decodes
entries on demand:

	r, err := zipcore.Open("archive.zip")
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()
	for _, name := range r.List() {
		rc, err := r.OpenEntry(name)
		...
	}

A Writer serializes entries sequentially and emits a correct central
directory and end-of-archive trailer at Close, transparently upgrading to
ZIP64 whenever a classic limit is reached:

	w, err := zipcore.NewWriter("archive.zip")
	if err != nil {
		log.Fatal(err)
	}
	defer w.Close()
	if err := w.AddBytes("hello.txt", []byte("Hello, World!"), zipcore.Deflate, false); err != nil {
		log.Fatal(err)
	}

See https://www.pkware.com/appnote for the format this package implements.

Out of scope: encryption, multi-volume/spanned archives, in-place archive
modification, compression methods other than Store and Deflate, and true
streaming compression without first buffering the entry in memory.
*/
package zipcore
