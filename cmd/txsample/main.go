// txsample runs a transaction sampler over a synthetic workload, and queries
// the diagnostics of running instances.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	var (
		ctx    = context.Background()
		stdin  = os.Stdin
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdin, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type commands struct {
	root    *ff.Command
	rootCfg *rootConfig
	runCfg  *runConfig
	client  *clientConfig
}

func newCommands(stdin io.Reader, stdout, stderr io.Writer) *commands {
	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("txsample")
	rootConfig.register(rootFlags)

	rootCommand := &ff.Command{
		Name:      "txsample",
		ShortHelp: "sample transaction traces, and inspect the samples of running instances",
		Flags:     rootFlags,
	}

	// Config for `txsample run`.
	runConfig := &runConfig{rootConfig: rootConfig}
	runFlags := ff.NewFlagSet("run").SetParent(rootFlags)
	runConfig.register(runFlags)
	runCommand := &ff.Command{
		Name:      "run",
		ShortHelp: "run a sampler over a synthetic workload, with harvesting and diagnostics",
		Flags:     runFlags,
		Exec:      runConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, runCommand)

	// Flags shared by the client commands.
	clientConfig := &clientConfig{rootConfig: rootConfig}
	clientFlags := ff.NewFlagSet("client").SetParent(rootFlags)
	clientConfig.register(clientFlags)

	// Config for `txsample samples`.
	samplesConfig := &samplesConfig{clientConfig: clientConfig}
	samplesFlags := ff.NewFlagSet("samples").SetParent(clientFlags)
	samplesConfig.register(samplesFlags)
	samplesCommand := &ff.Command{
		Name:      "samples",
		ShortHelp: "fetch recent samples from a running instance",
		Flags:     samplesFlags,
		Exec:      samplesConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, samplesCommand)

	// Config for `txsample stream`.
	streamConfig := &streamConfig{clientConfig: clientConfig}
	streamFlags := ff.NewFlagSet("stream").SetParent(clientFlags)
	streamConfig.register(streamFlags)
	streamCommand := &ff.Command{
		Name:      "stream",
		ShortHelp: "continuously stream completed traces from a running instance",
		Flags:     streamFlags,
		Exec:      streamConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, streamCommand)

	return &commands{
		root:    rootCommand,
		rootCfg: rootConfig,
		runCfg:  runConfig,
		client:  clientConfig,
	}
}

func (c *commands) parse(args []string) error {
	return c.root.Parse(args,
		ff.WithEnvVarPrefix("TXSAMPLE"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(parseYAMLConfig),
		ff.WithConfigIgnoreUndefinedFlags(),
	)
}

func exec(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) (err error) {
	cmds := newCommands(stdin, stdout, stderr)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(cmds.root))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := cmds.parse(args); err != nil {
		return err
	}

	// Validation and set-up.
	logger, err := newLogger(cmds.rootCfg.logLevel, stderr)
	if err != nil {
		return err
	}
	defer logger.Sync()
	cmds.rootCfg.logger = logger

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return cmds.root.Run(ctx)
}
