package eventprocessor

// RegisterSeedProcessors installs the default termination-event processors
// this system ships with: EMR cluster termination and AWS Batch job
// completion (success or failure).
func RegisterSeedProcessors(m *Manager) {
	m.AddProcessor(&Processor{
		Source: "aws.emr",
		IDPath: "detail.clusterId",
		Predicate: &Predicate{
			Path: "detail.state",
			Test: Contains("TERMINATED"),
		},
	})

	m.AddProcessor(&Processor{
		Source:     "aws.batch",
		DetailType: "batch job state change",
		IDPath:     "detail.jobId",
		Predicate: &Predicate{
			Path: "detail.status",
			Test: Equals("SUCCEEDED"),
			OrChildren: []*Predicate{
				{Path: "detail.status", Test: Equals("FAILED")},
			},
		},
	})
}
