// Package packet implements the framed, checksummed packet shared by
// telemetry and command traffic.
//
// Canonical encoding: the checksum is CRC-32 (IEEE) over the compact JSON
// object {"header":{"version","type","seq","timestamp"},"body":{...},"checksum":0}
// with header fields in that order, body keys sorted lexicographically at
// every depth, HTML escaping disabled and numbers written exactly as they
// were decoded (json.Number). Every producer and consumer in this module
// goes through Canonical, so a packet decoded from the wire re-encodes to
// the same bytes it was built from.
package packet
