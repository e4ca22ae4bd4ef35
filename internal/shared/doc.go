// Package shared holds helpers used across packages that belong to no single
// layer. Today that is the testutil subpackage:
//
//   - BufferedSlogHandler captures structured log records, including
//     attributes bound with Logger.With, so tests can assert on them and
//     verify that license keys are only ever logged masked or hashed.
//   - AuthorityServer is an httptest license authority speaking the JSON
//     lookup/claim/report_version protocol of the HTTP authority client.
//
// Example usage:
//
//	func TestActivation(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    authority := testutil.NewAuthorityServer(t, license.RemoteLicenseRecord{
//	        LicenseKey: "ABCD-1234", EntityID: "ent-1", Active: true,
//	    })
//	    cfg.Authority.URL = authority.URL
//	    ...
//	    testutil.AssertNeverLogged(t, logs, "ABCD-1234")
//	}
//
// testutil must only be imported from _test.go files.
package shared
