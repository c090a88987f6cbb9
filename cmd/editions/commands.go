package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/logging"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
)

func newRegisterCmd(d *deps) *cobra.Command {
	var printable int64
	cmd := &cobra.Command{
		Use:   "register COURSE SHORTNAME RESOURCE",
		Short: "register an editable resource and create its original version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[0], args[2])
			if err != nil {
				return err
			}
			course := records.Course{ID: ids[0], Shortname: args[1]}
			return d.svc.RegisterResource(cmd.Context(), course, ids[1], printable)
		},
	}
	cmd.Flags().Int64Var(&printable, "printable", 0, "resource id of the printable counterpart")
	return cmd
}

func newProcessCmd(d *deps) *cobra.Command {
	var resources []string
	cmd := &cobra.Command{
		Use:   "process COURSE SHORTNAME",
		Short: "register every listed resource of a course and record the outcome",
		Long: "Each --resource is RESOURCE or RESOURCE=PRINTABLE. The course is marked processed\n" +
			"only when every resource registers.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[0])
			if err != nil {
				return err
			}
			pairs := make(map[int64]int64, len(resources))
			for _, r := range resources {
				editable, printable, found := strings.Cut(r, "=")
				parsed, err := parseIDs(editable)
				if err != nil {
					return err
				}
				pairs[parsed[0]] = 0
				if found {
					p, err := parseIDs(printable)
					if err != nil {
						return err
					}
					pairs[parsed[0]] = p[0]
				}
			}
			if len(pairs) == 0 {
				return fmt.Errorf("no resources given")
			}
			course := records.Course{ID: ids[0], Shortname: args[1]}
			if err := d.svc.ProcessCourse(cmd.Context(), course, pairs); err != nil {
				return err
			}
			logging.FromContext(cmd.Context(), nil).Info("course processed", "course", course.Shortname, "resources", len(pairs))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&resources, "resource", nil, "resource to register, RESOURCE or RESOURCE=PRINTABLE")
	return cmd
}

func newVersionsCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "manage the versions of a resource",
	}

	list := &cobra.Command{
		Use:     "list COURSE RESOURCE",
		Short:   "list versions, original first",
		Aliases: []string{"ls"},
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args...)
			if err != nil {
				return err
			}
			names, err := d.svc.ListVersions(cmd.Context(), ids[0], ids[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
			return err
		},
	}

	var from string
	create := &cobra.Command{
		Use:   "create COURSE RESOURCE NAME",
		Short: "clone a version under a new name",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[0], args[1])
			if err != nil {
				return err
			}
			res, err := d.svc.CreateVersion(cmd.Context(), ids[0], ids[1], args[2], from)
			if err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("version %s already exists or %s does not", res.Name, fromOrOriginal(from))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Name)
			return err
		},
	}
	create.Flags().StringVar(&from, "from", "", "version to clone (default original)")

	remove := &cobra.Command{
		Use:     "delete COURSE RESOURCE NAME",
		Short:   "delete a version",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[0], args[1])
			if err != nil {
				return err
			}
			ok, err := d.svc.DeleteVersion(cmd.Context(), ids[0], ids[1], args[2])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("version %s cannot be deleted", args[2])
			}
			return nil
		},
	}

	cmd.AddCommand(list, create, remove)
	return cmd
}

func fromOrOriginal(from string) string {
	if from == "" {
		return "original"
	}
	return from
}

func newApplyCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "apply COURSE RESOURCE VERSION",
		Short: "publish a version and its printable rendering",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[0], args[1])
			if err != nil {
				return err
			}
			res, err := d.svc.ApplyVersion(cmd.Context(), ids[0], ids[1], args[2])
			if err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("version %s not found", args[2])
			}
			return printJSON(cmd, res)
		},
	}
}

func newAuditCmd(d *deps) *cobra.Command {
	var publish, showRecords bool
	cmd := &cobra.Command{
		Use:   "audit COURSE RESOURCE VERSION",
		Short: "check and repair the links of a version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[0], args[1])
			if err != nil {
				return err
			}
			res, err := d.svc.AuditLinks(cmd.Context(), ids[0], ids[1], args[2], publish)
			if err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("version %s not found", args[2])
			}
			if !showRecords {
				return printJSON(cmd, res)
			}
			links, err := d.svc.LinkRecords(cmd.Context(), ids[0], ids[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(cmd, links)
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "apply the version after the audit")
	cmd.Flags().BoolVar(&showRecords, "records", false, "print the link records instead of the summary")
	return cmd
}

func newHistoryCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "history COURSE RESOURCE",
		Short: "print the audit log of a resource, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args...)
			if err != nil {
				return err
			}
			if _, err := d.svc.Resource(cmd.Context(), ids[0], ids[1]); err != nil {
				return err
			}
			entries, err := d.svc.History(cmd.Context(), ids[0], ids[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				if _, err := fmt.Fprintf(out, "%d\t%s\t%s\t%d\t%s\n", e.TimeCreated, e.Action, e.Version, e.UserID, e.Other); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newCoursesCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "courses [COURSE]",
		Short: "list processed courses, or the editable resources of one course",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				courses, err := d.svc.ProcessedCourses(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, courses)
			}
			ids, err := parseIDs(args[0])
			if err != nil {
				return err
			}
			editables, err := d.svc.Editables(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, editables)
		},
	}
}
