// Package directory is the client for the remote organization directory.
//
// Organizations carry a free-form list of string attributes. Mutations are
// expressed as a JSON array of ADD/REPLACE operations sent with a single
// PATCH; BuildAttributeOperations picks the verb for each key from a
// caller-supplied snapshot rather than from remote state, so a stale
// snapshot relies on the directory treating ADD and REPLACE as upserts.
//
// LeadAttributes gives typed access to the keys used during conversion
// and keeps everything else in an extension map.
package directory
