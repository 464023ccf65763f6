package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rslifka/elasticity-sub000/core/jobflow"
	"github.com/rslifka/elasticity-sub000/core/models"
	"github.com/rslifka/elasticity-sub000/core/monitoring"
	"github.com/rslifka/elasticity-sub000/core/optimizer"
	"github.com/rslifka/elasticity-sub000/core/repository"
	"github.com/rslifka/elasticity-sub000/core/spec"
	"github.com/rslifka/elasticity-sub000/providers/emr"
	"github.com/rslifka/elasticity-sub000/storage"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func exactArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s expects %d argument(s): %s", c.Command.Name, n, c.Command.ArgsUsage)
	}
	return nil
}

func CmdRun() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Action:    run,
		Usage:     "Start a job flow from a definition file",
		ArgsUsage: "JOBFLOW.yaml",
		Description: `
Examples:
$ elasticity run --preflight --estimate 3 --wait nightly.yaml`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "wait until the job flow finishes",
			},
			&cli.BoolFlag{
				Name:  "preflight",
				Usage: "check that every instance type is offered in the region first",
			},
			&cli.Float64Flag{
				Name:  "estimate",
				Usage: "print the estimated cost of running this many hours first",
			},
		},
	}
}

func run(c *cli.Context) error {
	if err := exactArgs(c, 1); err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	path := c.Args().First()
	definition, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	js, err := spec.ParseJobFlowSpec(definition)
	if err != nil {
		return err
	}
	jf, err := js.Build(e.client, jobflow.WithLogger(e.logger))
	if err != nil {
		return err
	}
	if jf.Region() != "" && jf.Region() != e.region {
		e.logger.WithFields(log.Fields{
			"placement_region": jf.Region(),
			"region":           e.region,
		}).Warn("placement is outside the control plane region")
	}

	// History is opened before anything is launched so a bad database_url
	// fails the command while nothing is running yet.
	db, err := e.history(c)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	var estimate *models.CostEstimate
	if c.Bool("preflight") || c.IsSet("estimate") {
		awsClient, err := e.aws(c)
		if err != nil {
			return err
		}
		if c.Bool("preflight") {
			var types []string
			for _, g := range jf.InstanceGroups() {
				types = append(types, g.Type())
			}
			if err := awsClient.CheckInstanceTypes(c.Context, jf.Region(), types); err != nil {
				return err
			}
		}
		if c.IsSet("estimate") {
			prices := optimizer.NewPricingFetcher(awsClient, 0)
			estimate, err = optimizer.NewCostEstimator(prices).Estimate(c.Context, jf, c.Float64("estimate"))
			if err != nil {
				return err
			}
			printEstimate(c.App.Writer, estimate)
		}
	}

	id, err := jf.Run(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, id)

	var recorder monitoring.StateRecorder
	if db != nil {
		repo := repository.NewJobFlowRepository(db)
		record := repository.NewRecord(jf, string(definition))
		record.State = models.ClusterStarting
		if estimate != nil {
			record.CostEstimatedUSD = &estimate.TotalCostUSD
		}
		if err := repo.CreateJobFlow(c.Context, record); err != nil {
			e.logger.WithError(err).WithField("job_flow_id", id).Error("failed to record job flow history")
		} else {
			recorder = repo
		}
	}

	if !c.Bool("wait") {
		return nil
	}
	var extra []monitoring.MonitorOption
	if estimate != nil {
		costs := monitoring.NewCostTracker()
		costs.TrackJobFlow(id, estimate.HourlyCostUSD)
		extra = append(extra, monitoring.WithCostTracker(costs))
	}
	status, err := e.monitor(id, recorder, extra...).Wait(c.Context)
	if err != nil {
		return err
	}
	return finalState(status)
}

func finalState(status *models.ClusterStatus) error {
	if status.State == models.ClusterTerminatedErr {
		return fmt.Errorf("job flow %s terminated with errors: %s", status.ClusterID, status.LastStateChangeMessage)
	}
	return nil
}

func printEstimate(w io.Writer, estimate *models.CostEstimate) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tTYPE\tMARKET\tCOUNT\tUSD/HOUR")
	for _, line := range estimate.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.4f\n", line.Role, line.InstanceType, line.Market, line.InstanceCount, line.HourlyCostUSD)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t%.4f/hour, %.2f for %g hours\n", estimate.HourlyCostUSD, estimate.TotalCostUSD, estimate.Hours)
	tw.Flush()
}

func CmdStatus() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Action:    status,
		Usage:     "Show the state of a job flow",
		ArgsUsage: "JOBFLOW_ID",
	}
}

func status(c *cli.Context) error {
	if err := exactArgs(c, 1); err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	s, err := e.client.DescribeCluster(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", s.ClusterID)
	fmt.Fprintf(tw, "Name\t%s\n", s.Name)
	fmt.Fprintf(tw, "State\t%s\n", s.State)
	if s.LastStateChangeReason != "" {
		fmt.Fprintf(tw, "Reason\t%s: %s\n", s.LastStateChangeReason, s.LastStateChangeMessage)
	}
	fmt.Fprintf(tw, "Created\t%s\n", formatTime(s.CreatedAt))
	fmt.Fprintf(tw, "Ready\t%s\n", formatTime(s.ReadyAt))
	fmt.Fprintf(tw, "Ended\t%s\n", formatTime(s.EndedAt))
	if d := s.Duration(); d > 0 {
		fmt.Fprintf(tw, "Duration\t%s\n", d)
	}
	if s.MasterPublicDNSName != "" {
		fmt.Fprintf(tw, "Master\t%s\n", s.MasterPublicDNSName)
	}
	fmt.Fprintf(tw, "Instance hours\t%d\n", s.NormalizedInstanceHours)
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func CmdSteps() *cli.Command {
	return &cli.Command{
		Name:      "steps",
		Action:    steps,
		Usage:     "List the steps of a job flow",
		ArgsUsage: "JOBFLOW_ID",
	}
}

func steps(c *cli.Context) error {
	if err := exactArgs(c, 1); err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	list, err := e.client.ListSteps(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tSTARTED\tENDED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.StepID, s.Name, s.State, formatTime(s.StartedAt), formatTime(s.EndedAt))
	}
	return tw.Flush()
}

func CmdAddStep() *cli.Command {
	return &cli.Command{
		Name:      "add-step",
		Action:    addStep,
		Usage:     "Add the steps of a definition file to a running job flow",
		ArgsUsage: "JOBFLOW_ID JOBFLOW.yaml",
		Description: `
Hive and Pig are installed once per job flow; installation steps the job
flow already ran are not repeated.`,
	}
}

func addStep(c *cli.Context) error {
	if err := exactArgs(c, 2); err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	js, err := spec.ParseJobFlowFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	list, err := js.BuildSteps()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return errors.New("the definition has no steps")
	}

	jf, err := jobflow.FromJobFlowID(c.Context, e.client, c.Args().First(), jobflow.WithLogger(e.logger))
	if err != nil {
		return err
	}
	for _, step := range list {
		if err := jf.AddStep(c.Context, step); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.App.Writer, "added %d step(s) to %s\n", len(list), jf.JobFlowID())
	return nil
}

func CmdWait() *cli.Command {
	return &cli.Command{
		Name:      "wait",
		Action:    wait,
		Usage:     "Wait until a job flow finishes",
		ArgsUsage: "JOBFLOW_ID",
	}
}

func wait(c *cli.Context) error {
	if err := exactArgs(c, 1); err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	var recorder monitoring.StateRecorder
	db, err := e.history(c)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		recorder = repository.NewJobFlowRepository(db)
	}

	s, err := e.monitor(c.Args().First(), recorder).Wait(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", s.ClusterID, s.State)
	return finalState(s)
}

func CmdTerminate() *cli.Command {
	return &cli.Command{
		Name:      "terminate",
		Action:    terminate,
		Usage:     "Shut down a job flow",
		ArgsUsage: "JOBFLOW_ID",
	}
}

func terminate(c *cli.Context) error {
	if err := exactArgs(c, 1); err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	return e.client.TerminateJobFlows(c.Context, c.Args().First())
}

func CmdList() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Action: list,
		Usage:  "List job flows known to the control plane",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "state",
				Usage: "only list job flows in these states, e.g. --state RUNNING --state WAITING",
			},
			&cli.DurationFlag{
				Name:  "since",
				Usage: "only list job flows created within this duration",
			},
		},
	}
}

func list(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	in := emr.ListClustersInput{}
	for _, s := range c.StringSlice("state") {
		in.States = append(in.States, strings.ToUpper(s))
	}
	if since := c.Duration("since"); since > 0 {
		in.CreatedAfter = time.Now().Add(-since)
	}
	clusters, err := e.client.ListClusters(c.Context, in)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tCREATED\tINSTANCE HOURS")
	for _, s := range clusters {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", s.ClusterID, s.Name, s.State, formatTime(s.CreatedAt), s.NormalizedInstanceHours)
	}
	return tw.Flush()
}

func CmdHistory() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Action:    history,
		Usage:     "List submitted job flows, or the state changes of one",
		ArgsUsage: "[JOBFLOW_ID]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "maximum number of entries",
			},
		},
	}
}

func history(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	db, err := e.history(c)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("history is disabled: set database_url")
	}
	defer db.Close()

	repo := repository.NewJobFlowRepository(db)
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)

	if c.NArg() == 0 {
		records, err := repo.ListJobFlows(c.Context, nil, c.Int("limit"))
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "JOBFLOW ID\tNAME\tREGION\tSTATE\tSUBMITTED\tEST. USD")
		for _, r := range records {
			cost := "-"
			if r.CostEstimatedUSD != nil {
				cost = fmt.Sprintf("%.2f", *r.CostEstimatedUSD)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.JobFlowID, r.Name, r.Region, r.State, formatTime(r.CreatedAt), cost)
		}
		return tw.Flush()
	}

	record, err := repo.GetByJobFlowID(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	events, err := repository.NewEventRepository(db).GetEvents(c.Context, record.ID, c.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "AT\tFROM\tTO\tREASON")
	for _, ev := range events {
		from := "-"
		if ev.FromState != nil {
			from = string(*ev.FromState)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", formatTime(ev.At), from, ev.ToState, ev.Reason)
	}
	return tw.Flush()
}

func CmdSync() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Action:    sync,
		Usage:     "Upload a local file or directory to S3, skipping unchanged files",
		ArgsUsage: "LOCAL BUCKET REMOTE_DIR",
		Description: `
Examples:
$ elasticity sync ./scripts my-bucket jobs/nightly`,
	}
}

func sync(c *cli.Context) error {
	if err := exactArgs(c, 3); err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	awsClient, err := e.aws(c)
	if err != nil {
		return err
	}

	syncer := storage.NewSyncer(awsClient.S3(), e.logger)
	result, err := syncer.Sync(c.Context, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d uploaded, %d unchanged\n", len(result.Uploaded), len(result.Skipped))
	return nil
}
