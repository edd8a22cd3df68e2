package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mbolis/fieldsync/draft"
	"github.com/mbolis/fieldsync/gateway"
	"github.com/mbolis/fieldsync/kv"
	"github.com/mbolis/fieldsync/model"
	"github.com/mbolis/fieldsync/offline"
	"github.com/mbolis/fieldsync/reconcile"
	"github.com/mbolis/fieldsync/schema"
	"github.com/pkg/errors"
)

type env struct {
	store  *offline.Store
	client *gateway.Client
	drafts *draft.Manager
	out    io.Writer
}

func newEnv(ctx context.Context, store kv.Store, server string, out io.Writer) (*env, error) {
	local := offline.New(store)
	deviceID, err := local.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	client := gateway.New(server, gateway.KVTokenStore{KV: store})
	client.DeviceID = deviceID

	return &env{
		store:  local,
		client: client,
		drafts: draft.NewManager(local, client),
		out:    out,
	}, nil
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"login":          {"<username> <password>  sign in and keep the tokens on the device", cmdLogin},
	"logout":         {"forget the stored tokens", cmdLogout},
	"forms":          {"[year]  list the form types on the server", cmdForms},
	"download":       {"<form_type_id> <year>  cache a form for offline use", cmdDownload},
	"downloaded":     {"list cached forms", cmdDownloaded},
	"forget":         {"<form_type_id> <year>  drop a cached form", cmdForget},
	"fields":         {"<form_type_id> <year>  show the fields of a cached form", cmdFields},
	"new":            {"[-reg R] -prov P -city C [-brgy B] <form_type_id> <year>  start a draft", cmdNew},
	"location":       {"[-reg R] [-prov P] [-city C] [-brgy B] <draft_id>  change a draft's location", cmdLocation},
	"answer":         {"<draft_id> <field_key> <value>  answer a field (value may be JSON)", cmdAnswer},
	"drafts":         {"list local drafts", cmdDrafts},
	"sync":           {"<draft_id>  push a draft without submitting it", cmdSync},
	"submit":         {"<draft_id>  push and submit a draft", cmdSubmit},
	"submit-all":     {"submit every local draft", cmdSubmitAll},
	"delete":         {"<draft_id>  discard a local draft", cmdDelete},
	"my-submissions": {"[page]  list your submissions on the server", cmdMySubmissions},
	"submissions":    {"[-status S] [-year Y] [page]  list all submissions on the server", cmdSubmissions},
	"show":           {"<submission_id>  show a submission and its answers", cmdShow},
	"status":         {"<submission_id> <status>  move a submission to draft, reviewed or rejected", cmdStatus},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *env) run(ctx context.Context, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return errors.Errorf("unknown command %q", name)
	}
	return cmd.run(ctx, e, args)
}

func cmdLogin(ctx context.Context, e *env, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: login <username> <password>")
	}
	if _, err := e.client.Login(ctx, args[0], args[1]); err != nil {
		return err
	}
	me, err := e.client.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "logged in as %s (%s)\n", me.Username, me.Role)
	return nil
}

func cmdLogout(ctx context.Context, e *env, _ []string) error {
	return e.client.Logout(ctx)
}

func cmdForms(ctx context.Context, e *env, args []string) error {
	year := time.Now().Year()
	if len(args) > 0 {
		var err error
		if year, err = strconv.Atoi(args[0]); err != nil {
			return errors.Errorf("invalid year %q", args[0])
		}
	}

	formTypes, err := e.client.FormTypes(ctx, year)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEY\tNAME\tACTIVE VERSIONS")
	for _, ft := range formTypes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", ft.ID, ft.Key, ft.Name, len(ft.SchemaVersions))
	}
	return tw.Flush()
}

func cmdDownload(ctx context.Context, e *env, args []string) error {
	formTypeID, year, err := formArgs(args)
	if err != nil {
		return err
	}
	form, err := e.store.Download(ctx, e.client, formTypeID, year)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "downloaded %q (%d/%d): %d fields\n", form.Title, form.FormTypeID, form.Year, len(schema.ExtractFields(form.SchemaJSON)))
	return nil
}

func cmdDownloaded(ctx context.Context, e *env, _ []string) error {
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FORM\tYEAR\tTITLE\tVERSION\tDOWNLOADED")
	for _, f := range e.store.ListDownloadedForms(ctx) {
		version := "-"
		if f.Version != nil {
			version = strconv.Itoa(*f.Version)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", f.FormTypeID, f.Year, f.Title, version, f.DownloadedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func cmdForget(ctx context.Context, e *env, args []string) error {
	formTypeID, year, err := formArgs(args)
	if err != nil {
		return err
	}
	return e.store.DeleteDownloadedForm(ctx, formTypeID, year)
}

func cmdFields(ctx context.Context, e *env, args []string) error {
	formTypeID, year, err := formArgs(args)
	if err != nil {
		return err
	}
	form, ok := e.store.GetDownloadedForm(ctx, formTypeID, year)
	if !ok {
		return errors.Errorf("form %d/%d not downloaded", formTypeID, year)
	}

	shape, fields := schema.Extract(form.SchemaJSON)
	fmt.Fprintf(e.out, "schema shape: %s\n", shape)
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tREQUIRED\tLABEL\tOPTIONS")
	for _, f := range fields {
		var options []string
		for _, o := range schema.OptionsForField(f, form.MappingJSON) {
			options = append(options, o.Key+"="+o.Label)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", f.Key, f.Type, f.Required, f.Label, strings.Join(options, ", "))
	}
	return tw.Flush()
}

// locationFlags binds the location flags of new and location; unset flags stay nil.
func locationFlags(fs *flag.FlagSet) func() (model.Location, map[string]bool) {
	reg := fs.String("reg", "", "region")
	prov := fs.String("prov", "", "province")
	city := fs.String("city", "", "city or municipality")
	brgy := fs.String("brgy", "", "barangay")
	return func() (model.Location, map[string]bool) {
		set := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		return model.Location{
			RegName:  model.Str(*reg),
			ProvName: model.Str(*prov),
			CityName: model.Str(*city),
			BrgyName: model.Str(*brgy),
		}, set
	}
}

func cmdNew(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("new", flag.ContinueOnError)
	location := locationFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	formTypeID, year, err := formArgs(fs.Args())
	if err != nil {
		return err
	}
	form, ok := e.store.GetDownloadedForm(ctx, formTypeID, year)
	if !ok {
		return errors.Errorf("form %d/%d not downloaded", formTypeID, year)
	}

	loc, _ := location()
	d := model.Draft{
		FormTypeID:      formTypeID,
		Year:            year,
		MappingID:       form.MappingID,
		SchemaVersionID: form.SchemaVersionID,
		Location:        loc,
		Answers:         map[string]any{},
		Snapshots:       schema.Snapshots(schema.ExtractFields(form.SchemaJSON)),
		Status:          model.DraftStatusDraft,
	}
	if err = e.drafts.Save(ctx, &d); err != nil {
		return err
	}
	fmt.Fprintln(e.out, d.DraftID)
	return nil
}

func cmdLocation(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("location", flag.ContinueOnError)
	location := locationFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := e.draft(ctx, fs.Args())
	if err != nil {
		return err
	}

	loc, set := location()
	if set["reg"] {
		d.Location.RegName = loc.RegName
	}
	if set["prov"] {
		d.Location.ProvName = loc.ProvName
	}
	if set["city"] {
		d.Location.CityName = loc.CityName
	}
	if set["brgy"] {
		d.Location.BrgyName = loc.BrgyName
	}
	return e.drafts.Save(ctx, &d)
}

func cmdAnswer(ctx context.Context, e *env, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: answer <draft_id> <field_key> <value>")
	}
	d, err := e.draft(ctx, args[:1])
	if err != nil {
		return err
	}
	form, ok := e.store.GetDownloadedForm(ctx, d.FormTypeID, d.Year)
	if !ok {
		return errors.Errorf("form %d/%d not downloaded", d.FormTypeID, d.Year)
	}

	fields := schema.ExtractFields(form.SchemaJSON)
	d.Snapshots = schema.MergeSnapshots(d.Snapshots, fields)

	var field *schema.Field
	for _, f := range fields {
		if f.Key == args[1] {
			field = &f
			break
		}
	}
	if field == nil {
		return errors.Errorf("form %d/%d has no field %q", d.FormTypeID, d.Year, args[1])
	}

	e.drafts.SetAnswer(&d, *field, parseValue(args[2]), schema.OptionsForField(*field, form.MappingJSON))
	return e.drafts.Save(ctx, &d)
}

// parseValue reads JSON literals (numbers, booleans, arrays, objects); anything else is text.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil && v != nil {
		return v
	}
	return s
}

func cmdDrafts(ctx context.Context, e *env, _ []string) error {
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DRAFT\tSTATE\tFORM\tYEAR\tSERVER ID\tANSWERS\tDIRTY\tUPDATED")
	for _, d := range e.store.ListDrafts(ctx) {
		serverID := "-"
		if d.ServerSubmissionID != nil {
			serverID = strconv.FormatInt(*d.ServerSubmissionID, 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%d\t%t\t%s\n",
			d.DraftID, e.drafts.State(ctx, d.DraftID), d.FormTypeID, d.Year, serverID, len(d.Answers), d.Dirty, d.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func cmdSync(ctx context.Context, e *env, args []string) error {
	return e.reconcile(ctx, args, draft.ActionSync)
}

func cmdSubmit(ctx context.Context, e *env, args []string) error {
	return e.reconcile(ctx, args, draft.ActionSubmit)
}

func (e *env) reconcile(ctx context.Context, args []string, action draft.Action) error {
	d, err := e.draft(ctx, args)
	if err != nil {
		return err
	}
	res, err := e.drafts.Apply(ctx, &d, action)
	if errors.Is(err, draft.ErrOffline) {
		fmt.Fprintln(e.out, "offline: draft saved locally")
		return nil
	}
	if err != nil {
		return err
	}
	printResult(e.out, res)
	return nil
}

func printResult(out io.Writer, res reconcile.Result) {
	verb := "updated"
	if res.Created {
		verb = "created"
	}
	fmt.Fprintf(out, "submission %d %s: %d answers saved", res.SubmissionID, verb, res.Updated)
	if len(res.Rejected) > 0 {
		fmt.Fprintf(out, ", rejected %s", strings.Join(res.Rejected, ", "))
	}
	if res.Submission != nil {
		fmt.Fprintf(out, ", status %s", res.Submission.Status)
	}
	fmt.Fprintln(out)
}

func cmdSubmitAll(ctx context.Context, e *env, _ []string) error {
	n, err := e.drafts.SubmitAll(ctx)
	fmt.Fprintf(e.out, "%d drafts submitted\n", n)
	return err
}

func cmdDelete(ctx context.Context, e *env, args []string) error {
	d, err := e.draft(ctx, args)
	if err != nil {
		return err
	}
	return e.store.DeleteDraft(ctx, d.DraftID)
}

func cmdMySubmissions(ctx context.Context, e *env, args []string) error {
	filter := model.ListFilter{Page: 1}
	if len(args) > 0 {
		page, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Errorf("invalid page %q", args[0])
		}
		filter.Page = page
	}

	page, err := e.client.MySubmissions(ctx, filter)
	if err != nil {
		return err
	}
	return printPage(e.out, page)
}

func cmdSubmissions(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("submissions", flag.ContinueOnError)
	status := fs.String("status", "", "only submissions with this status")
	year := fs.Int("year", 0, "only submissions for this year")
	formTypeID := fs.Int("form", 0, "only submissions of this form type")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := model.ListFilter{Page: 1, Status: *status, Year: *year, FormTypeID: *formTypeID}
	if fs.NArg() > 0 {
		page, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return errors.Errorf("invalid page %q", fs.Arg(0))
		}
		filter.Page = page
	}

	page, err := e.client.ListSubmissions(ctx, filter)
	if err != nil {
		return err
	}
	return printPage(e.out, page)
}

func printPage(out io.Writer, page model.SubmissionPage) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFORM\tYEAR\tSTATUS\tANSWERS\tBARANGAY")
	for _, s := range page.Data {
		answers, brgy := 0, ""
		if s.AnswersCount != nil {
			answers = *s.AnswersCount
		}
		if s.BrgyName != nil {
			brgy = *s.BrgyName
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%d\t%s\n", s.ID, s.FormTypeID, s.Year, s.Status, answers, brgy)
	}
	fmt.Fprintf(tw, "page %d of %d (%d total)\n", page.Meta.Page, page.Meta.TotalPages, page.Meta.Total)
	return tw.Flush()
}

func cmdShow(ctx context.Context, e *env, args []string) error {
	id, err := submissionArg(args, 1)
	if err != nil {
		return err
	}
	detail, err := e.client.GetSubmission(ctx, id)
	if err != nil {
		return err
	}

	s := detail.Submission
	fmt.Fprintf(e.out, "submission %d: form %d, year %d, %s\n", s.ID, s.FormTypeID, s.Year, s.Status)
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tLABEL\tVALUE")
	for _, h := range detail.AnswersHuman {
		label := ""
		if h.Label != nil {
			label = *h.Label
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.FieldKey, label, schema.Stringify(h.Value))
	}
	return tw.Flush()
}

func cmdStatus(ctx context.Context, e *env, args []string) error {
	id, err := submissionArg(args, 2)
	if err != nil {
		return err
	}
	status := model.Status(args[1])
	s, err := e.client.UpdateSubmission(ctx, id, model.UpdateSubmissionRequest{Status: &status})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "submission %d is %s\n", s.ID, s.Status)
	return nil
}

func submissionArg(args []string, n int) (int64, error) {
	if len(args) != n {
		return 0, errors.Errorf("expected %d arguments", n)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id < 1 {
		return 0, errors.Errorf("invalid submission id %q", args[0])
	}
	return id, nil
}

func (e *env) draft(ctx context.Context, args []string) (model.Draft, error) {
	if len(args) != 1 {
		return model.Draft{}, errors.New("expected a draft id")
	}
	d, ok := e.store.GetDraft(ctx, args[0])
	if !ok {
		return model.Draft{}, errors.Errorf("no draft %q", args[0])
	}
	return d, nil
}

func formArgs(args []string) (formTypeID, year int, err error) {
	if len(args) != 2 {
		return 0, 0, errors.New("expected <form_type_id> <year>")
	}
	if formTypeID, err = strconv.Atoi(args[0]); err != nil || formTypeID < 1 {
		return 0, 0, errors.Errorf("invalid form type id %q", args[0])
	}
	if year, err = strconv.Atoi(args[1]); err != nil {
		return 0, 0, errors.Errorf("invalid year %q", args[1])
	}
	return formTypeID, year, nil
}
