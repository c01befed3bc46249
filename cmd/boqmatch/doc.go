// Command boqmatch is the operator CLI for the boqmatch daemon. It imports
// catalogs and bills of quantities from spreadsheets, submits matching jobs,
// inspects and corrects their results, and starts or stops boqmatchd.
//
// Every command except `config` and `daemon run` talks to the daemon over its
// HTTP API; the address and bearer token default to the values in the
// configuration file and can be overridden with --api and --token.
package main
