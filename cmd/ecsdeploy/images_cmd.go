package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsdeploy/pkg/image"
)

// imagesOpts is for build and pull, which differ only in what they
// ask of the deployer.
type imagesOpts struct {
	*rootOpts
	pull   bool
	output string
}

func newBuild(parent *rootOpts) *imagesOpts {
	return &imagesOpts{rootOpts: parent}
}

func newPull(parent *rootOpts) *imagesOpts {
	return &imagesOpts{rootOpts: parent, pull: true}
}

func (opts *imagesOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "build <environment>",
		Short:   "Build and push the images of the manifest, without deploying them",
		Example: makeExample("ecsdeploy build prod"),
		RunE:    opts.RunE,
	}
	if opts.pull {
		cmd.Use = "pull <environment>"
		cmd.Short = "Pull the images of the manifest from the registry"
		cmd.Example = makeExample("ecsdeploy pull prod")
	}
	cmd.Flags().StringVarP(&opts.output, "output-format", "o", outputFormatText, "output format: text, json or yaml")
	return cmd
}

func (opts *imagesOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := wantArgs(1, "<environment>", args); err != nil {
		return err
	}
	if !validOutputFormat(opts.output) {
		return errorInvalidOutputFormat
	}
	cfg, err := opts.loadManifest(args[0])
	if err != nil {
		return err
	}
	deps, err := opts.dependencies(opts.region(cfg.AWS.Region), true)
	if err != nil {
		return err
	}
	defer deps.Close()

	d := opts.deployer(deps)
	var refs map[string]image.Ref
	if opts.pull {
		refs, err = d.Pull(context.Background(), cfg)
	} else {
		refs, err = d.Build(context.Background(), cfg)
	}
	if err != nil {
		return err
	}
	return writeImages(opts.stdout, opts.output, refs)
}

func writeImages(w io.Writer, format string, refs map[string]image.Ref) error {
	if format != outputFormatText {
		out := map[string]string{}
		for id, ref := range refs {
			out[id] = ref.String()
		}
		return writeStructured(w, format, out)
	}
	ids := make([]string, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := newTabwriter(w)
	fmt.Fprintln(out, "IMAGE\tREFERENCE")
	for _, id := range ids {
		fmt.Fprintf(out, "%s\t%s\n", id, refs[id])
	}
	return out.Flush()
}
