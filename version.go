package driftbus

// Version is the library version, following semantic versioning.
const Version = "1.2.0"
