package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"carecoop/internal/export"
	"carecoop/internal/models"
	"carecoop/internal/scheduling"

	"github.com/spf13/cobra"
)

type engineFlags struct {
	workStart      string
	workEnd        string
	step           int
	maxSuggestions int
	maxInstances   int
	absences       string
}

func newRootCmd() *cobra.Command {
	ef := &engineFlags{}
	rootCmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Offline slot, conflict and recurrence tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&ef.workStart, "work-start", models.DefaultWorkStart, "start of the working day (HH:MM)")
	pf.StringVar(&ef.workEnd, "work-end", models.DefaultWorkEnd, "end of the working day (HH:MM)")
	pf.IntVar(&ef.step, "step", models.DefaultStepMinutes, "slot step in minutes")
	pf.IntVar(&ef.maxSuggestions, "max-suggestions", models.DefaultMaxSuggestions, "alternative slots per conflict, negative disables")
	pf.IntVar(&ef.maxInstances, "max-instances", models.DefaultMaxRecurrenceInstances, "recurrence expansion limit, 0 for none")
	pf.StringVar(&ef.absences, "absences", "", "JSON file with staff absences")

	rootCmd.AddCommand(slotsCmd(ef))
	rootCmd.AddCommand(conflictsCmd(ef))
	rootCmd.AddCommand(expandCmd(ef))
	rootCmd.AddCommand(endTimeCmd())
	rootCmd.AddCommand(durationCmd())
	rootCmd.AddCommand(exportCmd())
	return rootCmd
}

// engine builds the rule set from the persistent flags.
func (ef *engineFlags) engine(cmd *cobra.Command) (*scheduling.Engine, error) {
	window := scheduling.WorkWindow{Start: ef.workStart, End: ef.workEnd}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	e := scheduling.NewEngine(scheduling.Options{
		Window:         window,
		StepMinutes:    ef.step,
		MaxSuggestions: ef.maxSuggestions,
		MaxInstances:   ef.maxInstances,
	})
	if ef.absences == "" {
		return e, nil
	}
	var absences []models.Absence
	if err := readJSON(cmd, ef.absences, &absences); err != nil {
		return nil, fmt.Errorf("read absences: %w", err)
	}
	for _, a := range absences {
		if err := scheduling.ValidateAbsence(a); err != nil {
			return nil, err
		}
	}
	return e.WithRoster(scheduling.AbsenceList(absences)), nil
}

func slotsCmd(ef *engineFlags) *cobra.Command {
	var bookingsPath, staffID, date string
	var duration int

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List free start times for a staff member on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ef.engine(cmd)
			if err != nil {
				return err
			}
			existing, err := loadBookings(cmd, bookingsPath)
			if err != nil {
				return err
			}
			slots, err := engine.AvailableSlots(existing, staffID, date, duration)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"staffId": staffID, "date": date, "slots": slots})
		},
	}
	cmd.Flags().StringVar(&bookingsPath, "bookings", "", "JSON file with existing bookings")
	cmd.Flags().StringVar(&staffID, "staff", "", "staff id")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&duration, "duration", 0, "appointment length in minutes")
	_ = cmd.MarkFlagRequired("staff")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func conflictsCmd(ef *engineFlags) *cobra.Command {
	var bookingsPath, candidatePath string

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Check a candidate booking against existing bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ef.engine(cmd)
			if err != nil {
				return err
			}
			existing, err := loadBookings(cmd, bookingsPath)
			if err != nil {
				return err
			}
			var candidate models.Booking
			if err := readJSON(cmd, candidatePath, &candidate); err != nil {
				return fmt.Errorf("read candidate: %w", err)
			}
			conflicts, err := engine.CheckConflicts(existing, candidate)
			if err != nil {
				return err
			}
			if conflicts == nil {
				conflicts = []models.Conflict{}
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"conflicts": conflicts})
		},
	}
	cmd.Flags().StringVar(&bookingsPath, "bookings", "", "JSON file with existing bookings")
	cmd.Flags().StringVar(&candidatePath, "candidate", "-", "JSON file with the candidate booking, - for stdin")
	return cmd
}

func expandCmd(ef *engineFlags) *cobra.Command {
	var templatePath, pattern, first, last, bookingsPath string

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand a recurring booking and check each instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ef.engine(cmd)
			if err != nil {
				return err
			}
			p, err := scheduling.ParsePattern(pattern)
			if err != nil {
				return err
			}
			var tpl models.BookingTemplate
			if err := readJSON(cmd, templatePath, &tpl); err != nil {
				return fmt.Errorf("read template: %w", err)
			}
			instances, err := engine.ExpandRecurrence(tpl, p, first, last)
			if err != nil {
				return err
			}
			existing, err := loadBookings(cmd, bookingsPath)
			if err != nil {
				return err
			}
			report, err := engine.CheckBatch(existing, instances)
			if err != nil {
				return err
			}
			if report == nil {
				report = []scheduling.BatchConflict{}
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"instances": instances, "conflicts": report})
		},
	}
	cmd.Flags().StringVar(&templatePath, "template", "-", "JSON file with the booking template, - for stdin")
	cmd.Flags().StringVar(&pattern, "pattern", "", "daily, weekly, biweekly or monthly")
	cmd.Flags().StringVar(&first, "first", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&last, "last", "", "last date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&bookingsPath, "bookings", "", "JSON file with existing bookings")
	_ = cmd.MarkFlagRequired("pattern")
	_ = cmd.MarkFlagRequired("first")
	_ = cmd.MarkFlagRequired("last")
	return cmd
}

func endTimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end-time START MINUTES",
		Short: "Add a duration to a time of day, wrapping at midnight",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[1])
			if err != nil {
				return &scheduling.ValidationError{Field: "durationMinutes", Value: args[1], Reason: "must be an integer"}
			}
			end, err := scheduling.CalculateEndTime(args[0], minutes)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), end)
			return err
		},
	}
}

func durationCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "duration START END",
		Short: "Time between two times of day, crossing midnight when END is earlier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := scheduling.CalculateDuration(args[0], args[1])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]int{
					"hours": d.Hours, "minutes": d.Minutes, "totalMinutes": d.TotalMinutes(),
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), d.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print hours and minutes as JSON")
	return cmd
}

func exportCmd() *cobra.Command {
	var bookingsPath, from, to, outDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an xlsx roster for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			bookings, err := loadBookings(cmd, bookingsPath)
			if err != nil {
				return err
			}
			path, err := export.SaveRoster(outDir, from, to, bookings)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
	cmd.Flags().StringVar(&bookingsPath, "bookings", "", "JSON file with bookings")
	cmd.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	_ = cmd.MarkFlagRequired("bookings")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// loadBookings reads a JSON array of bookings. An empty path means none.
func loadBookings(cmd *cobra.Command, path string) ([]models.Booking, error) {
	if path == "" {
		return []models.Booking{}, nil
	}
	var bookings []models.Booking
	if err := readJSON(cmd, path, &bookings); err != nil {
		return nil, fmt.Errorf("read bookings: %w", err)
	}
	return bookings, nil
}

func readJSON(cmd *cobra.Command, path string, dst any) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
