package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newInstallCmd(a *app) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "install <name>...",
		Short: "Install catalog packages",
		Long: `Installs packages listed in the catalog.

With --source a single package is installed from a local path, archive or
URL instead, under the given name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd)
			if err != nil {
				return err
			}
			if source != "" {
				if len(args) != 1 {
					return fmt.Errorf("--source installs exactly one package")
				}
				h, err := m.InstallSource(cmd.Context(), args[0], source)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "installed %s %s at %s\n", h.Name(), h.Version(), h.Path())
				return nil
			}

			installed, err := m.Install(cmd.Context(), args...)
			for _, h := range installed {
				fmt.Fprintf(cmd.OutOrStdout(), "installed %s %s at %s\n", h.Name(), h.Version(), h.Path())
			}
			return err
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "install from this source instead of the catalog")
	return cmd
}

func newUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <name>...",
		Short: "Remove installed packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd)
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := m.Uninstall(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", name)
			}
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed catalog packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager(cmd)
			if err != nil {
				return err
			}
			installed, err := m.Installed()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, h := range installed {
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.Name(), h.Version(), h.Path())
			}
			return w.Flush()
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "Find catalog packages by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd)
			if err != nil {
				return err
			}
			found, err := m.Search(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range found {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, e.Version, e.Path)
			}
			return w.Flush()
		},
	}
}

func newOutdatedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "outdated",
		Short: "Check the catalog and installed packages for updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager(cmd)
			if err != nil {
				return err
			}
			report, err := m.Outdated(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if report.IndexOutdated {
				fmt.Fprintln(out, "index: outdated")
			} else {
				fmt.Fprintln(out, "index: current")
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, st := range report.Packages {
				state := "current"
				if st.Outdated {
					state = "outdated"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Name, st.Installed, st.Available, state)
			}
			return w.Flush()
		},
	}
}

func newExtensionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extensions [category]",
		Short: "List the extensions of installed packages",
		Long: `Discovers extensions in every installed catalog package and lists them by
category. Capabilities are declared in the manifest's [[capabilities]] tables.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd)
			if err != nil {
				return err
			}
			r, err := m.Discover(cmd.Context())
			if err != nil {
				return err
			}
			categories := r.Categories()
			if len(args) == 1 {
				categories = args
			}
			out := cmd.OutOrStdout()
			for _, tag := range categories {
				set, err := r.Category(tag)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s:\n", tag)
				for _, name := range set.Names() {
					fmt.Fprintf(out, "  %s\n", name)
				}
			}
			for _, failed := range r.Failed() {
				fmt.Fprintf(out, "skipped %s\n", failed.Prefix)
			}
			return nil
		},
	}
}
