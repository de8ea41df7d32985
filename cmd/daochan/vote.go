package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daochan/daochan/internal/forum"
)

const CommentKey = "comment"

func voteCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "vote <thread-id> <upvote|downvote>",
		Short: "Votes on a thread or comment",
		Long: "Votes on a thread, or on one of its comments with --comment. " +
			"Voting the same way twice removes the vote.",
		Args: cobra.ExactArgs(2),
		RunE: voteFunc,
	}
	c.Flags().String(CommentKey, "", "Comment ID to vote on")
	return c
}

func voteFunc(c *cobra.Command, args []string) error {
	commentID, err := c.Flags().GetString(CommentKey)
	if err != nil {
		return err
	}
	clicked, err := forum.ParseVoteType(args[1])
	if err != nil {
		return err
	}
	if clicked == forum.Unvote {
		return fmt.Errorf("vote the same way again to remove a vote")
	}

	target := forum.ThreadTarget(args[0])
	if commentID != "" {
		target = forum.CommentTarget(args[0], commentID)
	}

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := a.Vote(c.Context(), target, clicked)
	if err != nil {
		return explain(a, err)
	}
	fmt.Fprintf(c.OutOrStdout(), "%s: %s (%s votes)\n", target, view.Type, view.Count)
	return nil
}
