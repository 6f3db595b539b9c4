package eventprocessor

import "testing"

func TestPredicate_SimpleMatch(t *testing.T) {
	p := &Predicate{Path: "detail.state", Test: Contains("TERMINATED")}

	event := map[string]any{
		"detail": map[string]any{"state": "TERMINATED_WITH_ERRORS"},
	}
	if !p.Evaluate(event) {
		t.Fatal("expected predicate to match")
	}

	event["detail"] = map[string]any{"state": "RUNNING"}
	if p.Evaluate(event) {
		t.Fatal("expected predicate not to match")
	}
}

func TestPredicate_MissingPathNeverMatches(t *testing.T) {
	p := &Predicate{Path: "detail.state", Test: Contains("TERMINATED")}
	if p.Evaluate(map[string]any{"detail": map[string]any{}}) {
		t.Fatal("expected no match on missing path")
	}
}

func TestPredicate_OrChildrenOnlyConsultedWhenOwnFails(t *testing.T) {
	p := &Predicate{
		Path: "detail.status",
		Test: Equals("SUCCEEDED"),
		OrChildren: []*Predicate{
			{Path: "detail.status", Test: Equals("FAILED")},
		},
	}

	for _, status := range []string{"SUCCEEDED", "FAILED"} {
		event := map[string]any{"detail": map[string]any{"status": status}}
		if !p.Evaluate(event) {
			t.Fatalf("expected match for status %q", status)
		}
	}

	event := map[string]any{"detail": map[string]any{"status": "RUNNING"}}
	if p.Evaluate(event) {
		t.Fatal("expected no match for RUNNING")
	}
}

func TestPredicate_AndChildrenTakePrecedenceOverOr(t *testing.T) {
	// AndChildren set alongside OrChildren: per the documented composition
	// rule, AndChildren wins once the predicate's own test passes.
	p := &Predicate{
		Path: "detail.status",
		Test: Equals("SUCCEEDED"),
		AndChildren: []*Predicate{
			{Path: "detail.region", Test: Equals("us-east-1")},
		},
		OrChildren: []*Predicate{
			{Path: "detail.status", Test: Equals("FAILED")},
		},
	}

	event := map[string]any{"detail": map[string]any{"status": "SUCCEEDED", "region": "us-west-2"}}
	if p.Evaluate(event) {
		t.Fatal("expected AndChildren to veto the match")
	}

	event["detail"] = map[string]any{"status": "SUCCEEDED", "region": "us-east-1"}
	if !p.Evaluate(event) {
		t.Fatal("expected AndChildren to confirm the match")
	}
}

func TestCanonicalKey(t *testing.T) {
	cases := []struct {
		source, detailType, want string
	}{
		{"aws.emr", "", "aws.emr"},
		{"aws.batch", "Batch Job State Change", "aws.batch:batchjobstatechange"},
		{"aws.batch", "  batch  job state change  ", "aws.batch:batchjobstatechange"},
	}
	for _, c := range cases {
		if got := canonicalKey(c.source, c.detailType); got != c.want {
			t.Errorf("canonicalKey(%q, %q) = %q, want %q", c.source, c.detailType, got, c.want)
		}
	}
}
