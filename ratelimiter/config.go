package ratelimiter

import (
	"fmt"
	"os"
	"strings"
)

// baseTableEnvVar is the environment variable used to synthesize table
// names when no table-specific variable is set.
const baseTableEnvVar = "LIMITER_TABLES_BASE_NAME"

// resolveTableName returns explicit if non-empty, else the named
// environment variable if set, else a name synthesized from
// LIMITER_TABLES_BASE_NAME plus suffix, else an error. This mirrors the
// wire-level contract spec.md §6 fixes: one explicit variable per table, a
// shared base name with fixed suffixes, or failure.
func resolveTableName(explicit, envVar, suffix string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	if base := os.Getenv(baseTableEnvVar); base != "" {
		if !strings.HasSuffix(base, "-") {
			base += "-"
		}
		return base + suffix, nil
	}
	return "", fmt.Errorf("ratelimiter: could not resolve table name: set %s or %s", envVar, baseTableEnvVar)
}

// TableNames holds the resolved wire-level table and index names used by
// the managers and the event processor.
type TableNames struct {
	FungibleTokens    string
	NonFungibleTokens string
	NonFungibleIndex  string
	Limits            string
	LimitsIndex       string
}

// ResolveTableNames resolves every table name used by this module,
// applying the explicit-value / env-var / base-name fallback chain to
// each. Any explicit field left empty falls back to its environment
// variable, then to LIMITER_TABLES_BASE_NAME plus a fixed suffix.
func ResolveTableNames(explicit TableNames) (TableNames, error) {
	var err error
	resolved := TableNames{}

	if resolved.FungibleTokens, err = resolveTableName(explicit.FungibleTokens, "FUNG_TABLE_NAME", "fungible-tokens"); err != nil {
		return TableNames{}, err
	}
	if resolved.NonFungibleTokens, err = resolveTableName(explicit.NonFungibleTokens, "NON_FUNGIBLE_TABLE", "non-fungible-tokens"); err != nil {
		return TableNames{}, err
	}
	if resolved.NonFungibleIndex, err = resolveTableName(explicit.NonFungibleIndex, "NON_FUNGIBLE_RES_INDEX", "resource-index"); err != nil {
		return TableNames{}, err
	}
	if resolved.Limits, err = resolveTableName(explicit.Limits, "LIMIT_TABLE", "limits"); err != nil {
		return TableNames{}, err
	}
	if resolved.LimitsIndex, err = resolveTableName(explicit.LimitsIndex, "LIMIT_SERVICE_INDEX", "limits-service-index"); err != nil {
		return TableNames{}, err
	}

	return resolved, nil
}
