package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daochan/daochan/internal/client"
	"github.com/daochan/daochan/internal/forum"
)

const (
	PagesKey   = "pages"
	ImageKey   = "image"
	ReplyToKey = "reply-to"
)

func threadsCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "threads",
		Short: "Lists the newest threads",
		Args:  cobra.NoArgs,
		RunE:  threadsFunc,
	}
	c.Flags().Int(PagesKey, 1, "Number of pages to load")
	return c
}

func threadsFunc(c *cobra.Command, args []string) error {
	pagesWanted, err := c.Flags().GetInt(PagesKey)
	if err != nil {
		return err
	}

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := c.Context()
	pages, err := a.Threads(ctx)
	if err != nil {
		return err
	}
	for len(pages.Pages) < pagesWanted {
		var more bool
		if pages, more, err = a.MoreThreads(ctx); err != nil {
			return err
		}
		if !more {
			break
		}
	}

	tw := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVOTES\tAUTHOR\tTITLE")
	for _, p := range pages.Pages {
		for _, t := range p.Data {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Votes, displayName(t.User), t.Title)
		}
	}
	return tw.Flush()
}

func threadCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "thread <id>",
		Short: "Shows a thread and its comments",
		Args:  cobra.ExactArgs(1),
		RunE:  threadFunc,
	}
	c.Flags().Int(PagesKey, 1, "Number of comment pages to load")
	return c
}

func threadFunc(c *cobra.Command, args []string) error {
	pagesWanted, err := c.Flags().GetInt(PagesKey)
	if err != nil {
		return err
	}

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := c.Context()
	resp, err := a.Thread(ctx, args[0])
	if err != nil {
		return err
	}
	t := resp.Data

	comments, err := a.Comments(ctx, t.ID)
	if err != nil {
		return err
	}
	for len(comments.Pages) < pagesWanted {
		var more bool
		if comments, more, err = a.MoreComments(ctx, t.ID); err != nil {
			return err
		}
		if !more {
			break
		}
	}

	out := c.OutOrStdout()
	fmt.Fprintf(out, "%s\n%s  [%s votes]  %s\n", t.Title, displayName(t.User), t.Votes, t.CreatedAt.Local().Format("2006-01-02 15:04"))
	if t.Image != nil {
		fmt.Fprintf(out, "image: %s\n", t.Image.OriginalURL)
	}
	fmt.Fprintf(out, "\n%s\n", t.Content)

	for _, p := range comments.Pages {
		for _, cm := range p.Data {
			fmt.Fprintf(out, "\n--- %s  %s  [%s votes]\n", cm.ID, displayName(cm.User), cm.Votes)
			if cm.RepliedToComment != nil {
				fmt.Fprintf(out, "> replying to %s\n", cm.RepliedToComment.ID)
			}
			fmt.Fprintln(out, cm.Content)
		}
	}
	if next := lastPage(comments.Pages); next != nil {
		fmt.Fprintf(out, "\n%d of %d comments shown, use --pages for more\n", next.Offset, next.Count)
	}
	return nil
}

func lastPage[T any](pages []forum.Response[[]T]) *forum.Page {
	if len(pages) == 0 {
		return nil
	}
	return pages[len(pages)-1].NextPage
}

func displayName(u forum.User) string {
	if u.ENSName != "" {
		return u.ENSName
	}
	if len(u.Address) > 10 {
		return u.Address[:6] + "…" + u.Address[len(u.Address)-4:]
	}
	return u.Address
}

func postCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "post <title> <content>",
		Short: "Creates a thread",
		Args:  cobra.ExactArgs(2),
		RunE:  postFunc,
	}
	c.Flags().String(ImageKey, "", "Image file to attach")
	return c
}

func postFunc(c *cobra.Command, args []string) error {
	img, closeImg, err := imageFlag(c)
	if err != nil {
		return err
	}
	defer closeImg()

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.CreateThread(c.Context(), args[0], args[1], img)
	if err != nil {
		return explain(a, err)
	}
	fmt.Fprintln(c.OutOrStdout(), t.ID)
	return nil
}

func commentCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "comment <thread-id> <content>",
		Short: "Comments on a thread",
		Args:  cobra.ExactArgs(2),
		RunE:  commentFunc,
	}
	flags := c.Flags()
	flags.String(ReplyToKey, "", "Comment ID to reply to")
	flags.String(ImageKey, "", "Image file to attach")
	return c
}

func commentFunc(c *cobra.Command, args []string) error {
	replyTo, err := c.Flags().GetString(ReplyToKey)
	if err != nil {
		return err
	}
	img, closeImg, err := imageFlag(c)
	if err != nil {
		return err
	}
	defer closeImg()

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	cm, err := a.CreateComment(c.Context(), args[0], args[1], replyTo, img)
	if err != nil {
		return explain(a, err)
	}
	fmt.Fprintln(c.OutOrStdout(), cm.ID)
	return nil
}

// imageFlag opens the file named by --image, if any.
func imageFlag(c *cobra.Command) (*client.ImageUpload, func(), error) {
	path, err := c.Flags().GetString(ImageKey)
	if err != nil || strings.TrimSpace(path) == "" {
		return nil, func() {}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, func() {}, err
	}
	return &client.ImageUpload{FileName: filepath.Base(path), Body: f}, func() { f.Close() }, nil
}
