package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/urbanium/internal/app"
	s3blob "github.com/alanyoungcy/urbanium/internal/blob/s3"
	"github.com/alanyoungcy/urbanium/internal/crypto"
	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/identity"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var (
	deriveAsset  string
	deriveHolder string
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Print the identities derived for an asset and optional holder",
	RunE:  runDerive,
}

var (
	keygenOut      string
	keygenPassword string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Write a new encrypted executor key file",
	Long: `Generate a secp256k1 executor key, encrypt it with the password from
--password or URBANIUM_KEEPER_KEY_PASSWORD, and write it to --out.`,
	RunE: runKeygen,
}

var (
	snapshotVault string
	snapshotPath  string
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List a vault's position snapshots, or print one with --path",
	RunE:  runSnapshots,
}

func init() {
	snapshotsCmd.Flags().StringVar(&snapshotVault, "vault", "", "vault identity to list snapshots for")
	snapshotsCmd.Flags().StringVar(&snapshotPath, "path", "", "snapshot path to decode")

	deriveCmd.Flags().StringVar(&deriveAsset, "asset", "", "asset identity (required)")
	deriveCmd.Flags().StringVar(&deriveHolder, "holder", "", "holder identity")
	_ = deriveCmd.MarkFlagRequired("asset")

	keygenCmd.Flags().StringVar(&keygenOut, "out", "executor.key.json", "output path")
	keygenCmd.Flags().StringVar(&keygenPassword, "password", "", "encryption password")
}

type derived struct {
	Vault         domain.ID            `json:"vault"`
	VaultBump     uint8                `json:"vault_bump"`
	Authority     domain.ID            `json:"authority"`
	AuthorityBump uint8                `json:"authority_bump"`
	Reserves      map[string]domain.ID `json:"reserves"`
	Position      *domain.ID           `json:"position,omitempty"`
	Wallet        *domain.ID           `json:"wallet,omitempty"`
}

func runDerive(cmd *cobra.Command, _ []string) error {
	asset, err := domain.ParseID(deriveAsset)
	if err != nil {
		return err
	}
	vaultID, vaultBump := identity.VaultAddress(asset)
	authority, authorityBump := identity.VaultAuthorityAddress(vaultID)
	out := derived{
		Vault:         vaultID,
		VaultBump:     vaultBump,
		Authority:     authority,
		AuthorityBump: authorityBump,
		Reserves:      make(map[string]domain.ID, domain.ReserveCount),
	}
	for k := domain.ReserveKind(0); k < domain.ReserveCount; k++ {
		out.Reserves[k.String()] = identity.ReserveAddress(vaultID, k)
	}
	if deriveHolder != "" {
		holder, err := domain.ParseID(deriveHolder)
		if err != nil {
			return err
		}
		position, _ := identity.PositionAddress(vaultID, holder)
		wallet := identity.WalletAddress(holder, asset)
		out.Position, out.Wallet = &position, &wallet
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	password := keygenPassword
	if password == "" {
		password = os.Getenv("URBANIUM_KEEPER_KEY_PASSWORD")
	}
	if password == "" {
		return errors.New("keygen: a password is required")
	}
	if _, err := os.Stat(keygenOut); err == nil {
		return fmt.Errorf("keygen: %s already exists", keygenOut)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(keygenOut, data, 0o600); err != nil {
		return fmt.Errorf("keygen: write %s: %w", keygenOut, err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nexecutor %s\n", keygenOut, signer.ID().Hex())
	return nil
}

type snapshotView struct {
	Vault     domain.Vault      `json:"vault"`
	Positions []domain.Position `json:"positions"`
}

func runSnapshots(cmd *cobra.Command, _ []string) error {
	if (snapshotVault == "") == (snapshotPath == "") {
		return errors.New("snapshots: set exactly one of --vault or --path")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := s3blob.New(cmd.Context(), app.S3ClientConfig(cfg))
	if err != nil {
		return err
	}
	defer client.Close()
	reader := s3blob.NewReader(client)
	out := cmd.OutOrStdout()

	if snapshotPath == "" {
		vaultID, err := domain.ParseID(snapshotVault)
		if err != nil {
			return err
		}
		infos, err := reader.List(cmd.Context(), s3blob.SnapshotPrefix(vaultID))
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Fprintf(out, "%s\t%d\t%s\n", info.Path, info.Size, info.LastModified.UTC().Format(time.RFC3339))
		}
		return nil
	}

	body, err := reader.Get(cmd.Context(), snapshotPath)
	if err != nil {
		return err
	}
	defer body.Close()
	v, positions, err := s3blob.ReadSnapshot(body)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshotView{Vault: v, Positions: positions})
}
