package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/affinity/internal/cli"
	"github.com/Veraticus/affinity/internal/common"
	"github.com/Veraticus/affinity/internal/model"
)

func productsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Manage the product catalog",
		Long: `Add, list, import and delete catalog products.

Only products in the catalog can receive events or be recommended. Deleting
a product keeps its history but drops it from the next training run.`,
		Example: `  # Add a single product
  affinity products add P100 --name "Trail Shoe" --category footwear

  # Import a catalog from CSV (columns: id,name,category)
  affinity products import catalog.csv

  # List the catalog
  affinity products list`,
	}

	cmd.AddCommand(addProductCmd())
	cmd.AddCommand(listProductsCmd())
	cmd.AddCommand(importProductsCmd())
	cmd.AddCommand(deleteProductCmd())

	return cmd
}

func addProductCmd() *cobra.Command {
	var name, category string

	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add or update a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			product := &model.Product{ID: strings.TrimSpace(args[0]), Name: name, Category: category}
			if err := store.SaveProduct(ctx, product); err != nil {
				return fmt.Errorf("failed to save product: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Saved product %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(product.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Product name")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Product category")

	return cmd
}

func listProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog products",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			products, err := store.ListProducts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list products: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(products) == 0 {
				fmt.Fprintln(out, "No products found. Add one with 'affinity products add'.")
				return nil
			}

			w := newTable(out, "ID", "Name", "Category", "Added")
			for _, p := range products {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Category, cli.FormatRelativeTime(p.CreatedAt))
			}
			flushTable(w)
			fmt.Fprintf(out, "\n%d products\n", len(products))
			return nil
		},
	}
}

func importProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import products from a CSV file",
		Long: `Import products from a CSV file with an id column and optional name and
category columns. Existing products with the same id are updated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// #nosec G304 - path is supplied by the operator
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			products, err := readProductsCSV(f)
			if err != nil {
				return err
			}

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			bar := cli.NewProgressBar(cmd.ErrOrStderr(), len(products), "Importing products")
			for i := range products {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := store.SaveProduct(ctx, &products[i]); err != nil {
					return fmt.Errorf("failed to save product %s: %w", products[i].ID, err)
				}
				cli.Advance(bar, i+1)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported %d products", len(products))))
			return nil
		},
	}
}

func deleteProductCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <product-id>",
		Short: "Remove a product from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			if err := store.DeleteProduct(ctx, args[0]); err != nil {
				if errors.Is(err, common.ErrNotFound) {
					return fmt.Errorf("product %q not found", args[0])
				}
				return fmt.Errorf("failed to delete product: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted product %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(args[0]))
			return nil
		},
	}
}

// readProductsCSV parses a catalog file by header name. Blank ids are
// rejected; a repeated id keeps its last row.
func readProductsCSV(r io.Reader) ([]model.Product, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idCol, ok := cols["id"]
	if !ok {
		idCol, ok = cols["product_id"]
	}
	if !ok {
		return nil, fmt.Errorf("%w: CSV needs an id column", common.ErrInvalidInput)
	}
	field := func(rec []string, name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var products []model.Product
	seen := make(map[string]int)
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if idCol >= len(rec) || strings.TrimSpace(rec[idCol]) == "" {
			return nil, fmt.Errorf("%w: line %d has no product id", common.ErrInvalidInput, line)
		}
		p := model.Product{
			ID:       strings.TrimSpace(rec[idCol]),
			Name:     field(rec, "name"),
			Category: field(rec, "category"),
		}
		if i, dup := seen[p.ID]; dup {
			products[i] = p
			continue
		}
		seen[p.ID] = len(products)
		products = append(products, p)
	}
	return products, nil
}
