package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/cartapi"
	"finitefield.org/storefront-cartsync/internal/cartd"
	"finitefield.org/storefront-cartsync/internal/cartsync"
	"finitefield.org/storefront-cartsync/internal/platform/config"
	"finitefield.org/storefront-cartsync/internal/platform/observability"
	"finitefield.org/storefront-cartsync/internal/termview"
)

type rootFlags struct {
	envFile  string
	baseURL  string
	token    string
	logLevel string
	seed     int
	cookies  []string
	offline  bool
}

type app struct {
	cfg    config.Config
	logger *zap.Logger
	ctrl   *cartsync.Controller
	screen *termview.Screen
	drawer *termview.Drawer
	nav    *termview.Navigator
}

func newRootCmd(extra ...config.Option) *cobra.Command {
	flags := &rootFlags{}
	var current *app

	root := &cobra.Command{
		Use:           "cartsync",
		Short:         "Keep a terminal cart badge and drawer in sync with a storefront cart",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags, extra)
			if err != nil {
				return err
			}
			current = a
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if current != nil {
				_ = current.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file read before the environment")
	root.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "storefront base URL (overrides CARTSYNC_API_BASE_URL)")
	root.PersistentFlags().StringVar(&flags.token, "csrf-token", "", "anti-forgery token; discovered from the storefront page when empty")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	root.PersistentFlags().IntVar(&flags.seed, "seed", -1, "badge count rendered by the page, if known")
	root.PersistentFlags().BoolVar(&flags.offline, "offline", false, "use an in-process cart stocked from the catalog instead of the storefront")
	root.PersistentFlags().StringArrayVar(&flags.cookies, "cookie", nil, "cookie sent to the storefront as name=value (repeatable)")

	appFn := func() *app { return current }
	root.AddCommand(
		newWatchCmd(appFn),
		newOpenCmd(appFn),
		newAddCmd(appFn),
		newSetCmd(appFn),
		newRemoveCmd(appFn),
		newSaveCmd(appFn),
		newCardCmd(appFn),
	)
	return root
}

func newApp(cmd *cobra.Command, flags *rootFlags, extra []config.Option) (*app, error) {
	overrides := map[string]string{}
	if flags.baseURL != "" {
		overrides["CARTSYNC_API_BASE_URL"] = flags.baseURL
	}
	if flags.token != "" {
		overrides["CARTSYNC_API_CSRF_TOKEN"] = flags.token
	}
	if flags.logLevel != "" {
		overrides["LOG_LEVEL"] = flags.logLevel
	}
	opts := append([]config.Option{config.WithEnvFile(flags.envFile), config.WithEnvMap(overrides)}, extra...)

	cfg, err := config.Load(cmd.Context(), opts...)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("initialise logger: %w", err)
	}
	logger = logger.Named("cartsync")

	var service cartsync.Service
	if flags.offline {
		service, err = offlineService(cfg)
	} else {
		service, err = storefrontClient(cfg, flags.cookies)
	}
	if err != nil {
		return nil, err
	}

	screen := termview.NewScreen(cmd.OutOrStdout())
	site := cart.Storefront{
		SiteName:              cfg.Storefront.SiteName,
		WhatsApp:              cfg.Storefront.WhatsApp,
		Currency:              cfg.Storefront.Currency,
		FreeDeliveryThreshold: cfg.Storefront.FreeDeliveryThreshold,
	}
	a := &app{
		cfg:    cfg,
		logger: logger,
		screen: screen,
		drawer: termview.NewDrawer(screen, site, cfg.API.BaseURL),
		nav:    termview.NewNavigator(screen, cfg.API.BaseURL),
	}
	a.ctrl, err = cartsync.New(cartsync.Deps{
		Service:      service,
		Badges:       []cartsync.BadgeView{termview.NewBadge(screen), termview.NewProceedBar(screen)},
		Drawer:       a.drawer,
		Notifier:     termview.NewNotifier(screen),
		Navigator:    a.nav,
		Logger:       logger,
		PollInterval: cfg.Sync.PollInterval,
		CartPath:     cfg.Sync.CartPath,
	})
	if err != nil {
		return nil, err
	}
	if flags.seed >= 0 {
		a.ctrl.Seed(flags.seed)
	}
	return a, nil
}

// storefrontClient talks to the configured storefront with a cookie jar so the session and
// anti-forgery cookies persist across calls.
func storefrontClient(cfg config.Config, cookies []string) (*cartapi.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if err := presetCookies(jar, cfg.API.BaseURL, cookies); err != nil {
		return nil, err
	}
	httpClient := &http.Client{Jar: jar, Timeout: cfg.API.Timeout}

	var tokens cartapi.TokenSource = cartapi.StaticToken(cfg.API.CSRFToken)
	if cfg.API.CSRFToken == "" {
		tokens = cartapi.NewPageTokenSource(httpClient, cfg.API.BaseURL+"/"+strings.TrimPrefix(cfg.API.TokenPage, "/"))
	}
	return cartapi.NewClient(cfg.API.BaseURL, httpClient,
		cartapi.WithCSRFHeader(cfg.API.CSRFHeader),
		cartapi.WithTokenSource(tokens),
	)
}

// offlineService stocks an in-process cart from the catalog file, or the built-in catalog.
func offlineService(cfg config.Config) (*cartapi.StaticService, error) {
	catalog := cartd.DefaultCatalog()
	if cfg.Catalog.File != "" {
		loaded, err := cartd.LoadCatalog(cfg.Catalog.File)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	products := catalog.Products()
	items := make([]cart.Item, 0, len(products))
	for _, p := range products {
		items = append(items, cart.Item{
			ProductID: p.ID,
			Slug:      p.Slug,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			Price:     p.Price,
		})
	}
	return cartapi.NewStaticService(items...), nil
}

func presetCookies(jar http.CookieJar, baseURL string, raw []string) error {
	if len(raw) == 0 {
		return nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, entry := range raw {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("cookie %q must be name=value", entry)
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: strings.TrimSpace(value), Path: "/"})
	}
	jar.SetCookies(u, cookies)
	return nil
}

// prime fetches the count once so one-shot commands start from a known badge.
func (a *app) prime(ctx context.Context) {
	if a.ctrl.BadgeState() == cartsync.BadgeUnknown {
		a.ctrl.RefreshCount(ctx)
	}
}

func newWatchCmd(appFn func() *app) *cobra.Command {
	var (
		open     bool
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the cart and print badge changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			if open {
				if _, err := a.ctrl.OpenDrawer(ctx); err != nil {
					a.logger.Warn("drawer unavailable", zap.Error(err))
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.ctrl.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				stats := a.ctrl.Stats()
				a.logger.Info("watch stopped",
					zap.Int64("poll_skips", stats.PollSkips),
					zap.Int64("stale_drops", stats.StaleDrops),
					zap.Int64("rollbacks", stats.Rollbacks),
					zap.Int64("fallbacks", stats.Fallbacks),
				)
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "open the drawer so polls refresh its contents")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func newOpenCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open the cart drawer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			_, err := a.ctrl.OpenDrawer(cmd.Context())
			if errors.Is(err, cartsync.ErrFallback) {
				return nil
			}
			return err
		},
	}
}

func newAddCmd(appFn func() *app) *cobra.Command {
	var quantity int
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			a.prime(cmd.Context())
			return a.ctrl.AddToCart(cmd.Context(), cart.ID(args[0]), quantity)
		},
	}
	cmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "quantity to add")
	return cmd
}

func newSetCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <item-id> <quantity>",
		Short: "Set a cart line's quantity (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity %q is not a number", args[1])
			}
			a := appFn()
			return mutateInDrawer(cmd.Context(), a, func(ctx context.Context) error {
				return a.ctrl.Mutate(ctx, cart.ID(args[0]), quantity)
			})
		},
	}
}

func newRemoveCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove a cart line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			return mutateInDrawer(cmd.Context(), a, func(ctx context.Context) error {
				return a.ctrl.Remove(ctx, cart.ID(args[0]))
			})
		},
	}
}

func newSaveCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <item-id>",
		Short: "Move a cart line to the saved-for-later list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			return mutateInDrawer(cmd.Context(), a, func(ctx context.Context) error {
				return a.ctrl.SaveForLater(ctx, cart.ID(args[0]))
			})
		},
	}
}

func newCardCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "card <product-id> <quantity>",
		Short: "Drive a category card stepper for a product to the given quantity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity %q is not a number", args[1])
			}
			a := appFn()
			ctx := cmd.Context()
			a.prime(ctx)

			productID := cart.ID(args[0])
			start := 0
			if snap, err := a.ctrl.OpenDrawer(ctx); err == nil {
				if it, ok := snap.FindByProduct(productID); ok {
					start = it.Quantity
				}
			} else if errors.Is(err, cartsync.ErrFallback) {
				return nil
			}
			a.ctrl.CloseDrawer()

			stepper := a.ctrl.NewStepper(productID, start, termview.NewStepper(a.screen, "product "+productID.String()))
			if err := stepper.Set(ctx, target); err != nil && !errors.Is(err, cartsync.ErrFallback) {
				return err
			}
			return nil
		},
	}
}

// mutateInDrawer opens the drawer first so the post-mutation refetch is rendered.
func mutateInDrawer(ctx context.Context, a *app, fn func(context.Context) error) error {
	if _, err := a.ctrl.OpenDrawer(ctx); err != nil {
		if errors.Is(err, cartsync.ErrFallback) {
			return nil
		}
		return err
	}
	err := fn(ctx)
	if errors.Is(err, cartsync.ErrFallback) {
		return nil
	}
	return err
}
