// Package license implements the offline-first lease engine. A license key is
// activated once against a remote authority, bound to this machine's hardware
// fingerprint, and then kept alive locally through a short renewable lease.
//
// # Architecture Overview
//
// The package consists of several components:
//
//	- Manager: single entry point used by the HTTP layer and the CLI
//	- Validate: pure decision function over a stored lease and the clock
//	- LeaseStore: encrypted persistence of the single LocalLeaseRecord
//	- ActivationClient: activation and renewal against an Authority
//	- Authority: HTTP or Google Sheets backed service of record
//	- RunRenewer: background lease renewal loop
//
// # Lease Validation Flow
//
// Validation runs these checks in order and stops at the first failure:
//
//	1. No stored lease                       -> no_license
//	2. Lease bound to another fingerprint    -> hardware_mismatch
//	3. Clock more than 10 minutes behind the
//	   last known time                       -> clock_tampered
//	4. Past the lease expiry                 -> expired
//	5. Otherwise                             -> valid, with days left
//
// Between steps 3 and 4 the last known time is moved forward, at most once
// per hour, so that rewinding the clock later is detectable.
//
// # Storage
//
// The lease is sealed with AES-256-GCM under a key derived with scrypt from
// the application salt and the machine fingerprint. A lease file copied to
// another machine cannot be decrypted there; it is discarded and the machine
// reports no_license.
//
// # Renewal
//
// Renewal asks the authority whether the key is still active and bound to
// this machine. A declined renewal leaves the local lease untouched, so a
// revoked key keeps working until its current lease runs out.
//
// # Usage
//
//	manager, err := license.NewManager(license.Options{
//		Store:       leaseStore,
//		Authority:   authority,
//		Fingerprint: fingerprint,
//	})
//	record, err := manager.Activate(ctx, "ABCD-EFGH-IJKL")
//	if manager.IsAuthenticated(ctx) {
//		// unlock features
//	}
package license
