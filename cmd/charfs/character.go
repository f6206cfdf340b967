package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"charfs/internal/bonus"
	"charfs/internal/devices/character"
	"charfs/internal/errno"
)

func newSheetCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sheet [id]",
		Short: "Show a character sheet, or list characters",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				ids := s.set.Character.IDs(ctx)
				if !ids.OK() {
					return ids.Code.Err("sheet", character.ID)
				}
				for _, id := range ids.Value {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			sheet := s.set.Character.GetSheet(ctx, args[0])
			if !sheet.OK() {
				return sheet.Code.Err("sheet", args[0])
			}
			if asJSON {
				return printJSON(out, sheet.Value)
			}
			fmt.Fprintln(out, renderSheet(sheet.Value))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sheet as JSON")
	return cmd
}

func newBonusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bonus",
		Short: "Add, remove and total typed bonuses",
	}

	var typ, source string
	add := &cobra.Command{
		Use:   "add <entity> <target> <value>",
		Short: "Add a bonus to a target",
		Long: `Add a typed bonus. Bonuses of the same type do not stack: the largest
magnitude wins. Dodge, circumstance, untyped and condition bonuses stack.

Examples:
  charfs bonus add valeros strength 2 --type enhancement --source belt
  charfs bonus add valeros ac 1 --type dodge --source feat`,
		Args: cobra.ExactArgs(3),
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			value, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid bonus value %q: %w", args[2], err)
			}
			if code := s.set.Bonus.AddBonus(ctx, args[0], args[1], value, typ, source); code != errno.SUCCESS {
				return code.Err("bonus add", args[0])
			}
			return printBreakdown(ctx, s, cmd, args[0], args[1])
		}),
	}
	add.Flags().StringVarP(&typ, "type", "t", bonus.Untyped, "bonus type")
	add.Flags().StringVarP(&source, "source", "s", "manual", "bonus source")

	rm := &cobra.Command{
		Use:   "rm <entity> <target> <source>",
		Short: "Remove the bonuses a source applies to a target",
		Args:  cobra.ExactArgs(3),
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			if code := s.set.Bonus.RemoveBonus(ctx, args[0], args[1], args[2]); code != errno.SUCCESS {
				return code.Err("bonus rm", args[0])
			}
			return printBreakdown(ctx, s, cmd, args[0], args[1])
		}),
	}

	total := &cobra.Command{
		Use:   "total <entity> [target]",
		Short: "Show a target's breakdown, or every target's total",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				return printBreakdown(ctx, s, cmd, args[0], args[1])
			}
			totals := s.set.Bonus.Totals(ctx, args[0])
			if !totals.OK() {
				return totals.Code.Err("bonus total", args[0])
			}
			for _, target := range sortedKeys(totals.Value) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %+d\n", target, totals.Value[target])
			}
			return nil
		}),
	}

	cmd.AddCommand(add, rm, total)
	return cmd
}

func printBreakdown(ctx context.Context, s *session, cmd *cobra.Command, id, target string) error {
	bd := s.set.Bonus.GetBreakdown(ctx, id, target)
	if !bd.OK() {
		return bd.Code.Err("bonus total", id)
	}
	fmt.Fprint(cmd.OutOrStdout(), renderBreakdown(bd.Value))
	return nil
}

func newConditionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "condition",
		Short: "Apply, remove and list conditions",
	}

	apply := &cobra.Command{
		Use:   "apply <entity> <condition>",
		Short: "Apply a condition and its penalties",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, s *session, _ *cobra.Command, args []string) error {
			if code := s.set.Condition.Apply(ctx, args[0], args[1]); code != errno.SUCCESS {
				return code.Err("condition apply", args[1])
			}
			return nil
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <entity> <condition>",
		Short: "Remove a condition and its penalties",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, s *session, _ *cobra.Command, args []string) error {
			if code := s.set.Condition.Remove(ctx, args[0], args[1]); code != errno.SUCCESS {
				return code.Err("condition rm", args[1])
			}
			return nil
		}),
	}

	ls := &cobra.Command{
		Use:   "ls <entity>",
		Short: "List active conditions",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			active := s.set.Condition.Active(ctx, args[0])
			if !active.OK() {
				return active.Code.Err("condition ls", args[0])
			}
			for _, name := range active.Value {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}),
	}

	clearAll := &cobra.Command{
		Use:   "clear <entity>",
		Short: "Remove every active condition",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, s *session, _ *cobra.Command, args []string) error {
			if code := s.set.Condition.Clear(ctx, args[0]); code != errno.SUCCESS {
				return code.Err("condition clear", args[0])
			}
			return nil
		}),
	}

	cmd.AddCommand(apply, rm, ls, clearAll)
	return cmd
}
