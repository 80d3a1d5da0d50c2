// Package weights owns the per-device ALE weight profiles.
//
// A "default" profile {0.4, 0.3, 0.3} always exists. Lookups for an unknown
// id return a copy of the default with the id substituted; nothing is stored
// on read. Set replaces all three weights of one id after checking each lies
// in [0, 1]. The three weights are not required to sum to 1.
//
// A Store (MongoStore in production) makes profiles durable: Load runs once at
// startup and every Set writes through before memory changes.
package weights
