// Package cli provides the leadflow command-line interface.
//
// # Commands
//
// serve: Run the HTTP service with the scheduled orphaned user report
//
//	leadflow serve --config /etc/leadflow/leadflow.yaml
//
// convert: Convert one lead from the terminal and print the JSON result
//
//	leadflow convert \
//		--org 7c9e6679-7425-40de-944b-e07fc1f90ae7 \
//		--name "Acme Corp" \
//		--actor-name ops-oncall
//
// Several organizations can be converted in one go; -parallel bounds how
// many run at once and the results print as a JSON array in input order:
//
//	leadflow convert --org org-1,org-2,org-3 --parallel 2
//
// The command exits non-zero when any conversion fails; the printed results
// still name the failed step and any orphaned user.
//
// orphans: List users that failed conversions left behind
//
//	leadflow orphans --limit 20
//
// # Configuration
//
// Every command loads configuration the same way: defaults, then the YAML
// file from --config or LEADFLOW_CONFIG_FILE, then LEADFLOW_* environment
// variables. See pkg/config.
//
// # Related Packages
//
//   - pkg/app: Builds the service from configuration
//   - pkg/conversion: Runs the conversion
//   - pkg/audit: Backs the orphans listing
package cli
