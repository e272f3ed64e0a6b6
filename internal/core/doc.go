// Package core provides the analysis jobs run by findoutlie and the machinery
// around them: image discovery, content hashing, the result cache and the
// runner.
//
// # Design Principles
//
//  1. Job identity is content based: the same image bytes analysed with the
//     same metric and detector settings always produce the same JobHash.
//  2. Discovery is deterministic: images are returned in sorted,
//     slash-normalized order regardless of filesystem ordering.
//  3. A broken image fails its own job; it never aborts the other jobs.
//
// # Core Types
//
// Job: one unit of analysis (validate a data directory or scan one image).
// Result: the outcome of a job, whether computed or read from the cache.
// Cache: storage of detect results keyed by JobHash.
package core
