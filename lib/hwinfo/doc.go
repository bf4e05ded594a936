// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo probes the storage device behind a path and turns the
// result into tuning recommendations for the streaming stack.
//
// On Linux the probe stats the path, maps the containing device number
// to /sys/dev/block/MAJ:MIN, and reads the request queue attributes
// (rotational, physical and logical block size, queue depth). Partitions
// are resolved to their parent disk, which owns the queue directory.
//
// Probing never fails. Missing or unreadable attributes leave
// conservative defaults in place: 512-byte sectors, a seek penalty, and
// a single I/O channel. A container with no /sys is still a valid host.
package hwinfo
