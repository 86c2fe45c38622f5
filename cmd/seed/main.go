// Command seed populates the configured store with a demo dataset: supply
// chain nodes, farms, lots with custody movements, pond logs, samplings with
// lab results, documents and incidents. Risk scores are computed by the
// engine as records land, so the seeded lots carry live assessments.
//
// Storage and blob backends are selected through the usual SHRIMPTRACE_*
// environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"shrimptrace/internal/blob"
	"shrimptrace/internal/core"
	"shrimptrace/pkg/domain"
)

func main() {
	lotCount := flag.Int("lots", 100, "number of lots to create")
	seed := flag.Int64("seed", 1, "random seed for reproducible datasets")
	flag.Parse()

	if err := run(*lotCount, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(lotCount int, seed int64) error {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(seed))

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	blobs, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	svc := core.NewService(store, core.WithBlobStore(blobs))

	nodes, err := seedNodes(ctx, svc)
	if err != nil {
		return err
	}
	fmt.Printf("created %d chain nodes\n", len(nodes.collectors)+len(nodes.processors)+len(nodes.exporters))

	farms, err := seedFarms(ctx, svc, rng)
	if err != nil {
		return err
	}
	fmt.Printf("created %d farms\n", len(farms))

	if err := seedPondLogs(ctx, svc, rng, farms); err != nil {
		return err
	}

	lots, err := seedLots(ctx, svc, rng, farms, lotCount)
	if err != nil {
		return err
	}
	fmt.Printf("created %d lots\n", len(lots))

	if err := seedMovements(ctx, svc, rng, lots, nodes); err != nil {
		return err
	}
	if err := seedLabWork(ctx, svc, rng, lots); err != nil {
		return err
	}
	if err := seedDocuments(ctx, svc, rng, farms); err != nil {
		return err
	}
	if err := seedIncidents(ctx, svc, rng, lots); err != nil {
		return err
	}

	byLevel := map[domain.RiskLevel]int{}
	for _, lot := range svc.ListLots() {
		byLevel[lot.RiskLevel]++
	}
	fmt.Printf("risk distribution: LOW=%d MEDIUM=%d HIGH=%d\n",
		byLevel[domain.RiskLow], byLevel[domain.RiskMedium], byLevel[domain.RiskHigh])
	return nil
}

type chainNodes struct {
	collectors []domain.Node
	processors []domain.Node
	exporters  []domain.Node
}

func seedNodes(ctx context.Context, svc *core.Service) (chainNodes, error) {
	var nodes chainNodes
	specs := []struct {
		name string
		typ  domain.NodeType
	}{
		{"Pengumpul Jaya", domain.NodeCollector},
		{"Pengumpul Sentosa", domain.NodeCollector},
		{"Pengumpul Makmur", domain.NodeCollector},
		{"Pengumpul Bahari", domain.NodeCollector},
		{"PT Sumber Jaya Processing", domain.NodeProcessor},
		{"PT Mandiri Seafood", domain.NodeProcessor},
		{"PT Bahari Prima", domain.NodeProcessor},
		{"PT Ocean Fresh", domain.NodeProcessor},
		{"PT Global Shrimp Export", domain.NodeExporter},
		{"PT Indo Marine Export", domain.NodeExporter},
		{"PT Nusantara Seafood", domain.NodeExporter},
	}
	for _, spec := range specs {
		node, _, err := svc.CreateNode(ctx, domain.Node{Name: spec.name, Type: spec.typ})
		if err != nil {
			return chainNodes{}, fmt.Errorf("create node %s: %w", spec.name, err)
		}
		switch spec.typ {
		case domain.NodeCollector:
			nodes.collectors = append(nodes.collectors, node)
		case domain.NodeProcessor:
			nodes.processors = append(nodes.processors, node)
		case domain.NodeExporter:
			nodes.exporters = append(nodes.exporters, node)
		}
	}
	return nodes, nil
}

var farmNames = []string{
	"Tambak Jaya Abadi", "Tambak Sentosa Mulya", "Tambak Makmur Sejahtera",
	"Tambak Bahari Nusantara", "Tambak Mina Lestari", "Tambak Rejeki Nusantara",
	"Tambak Sumber Rezeki", "Tambak Putra Mandiri", "Tambak Karya Utama",
	"Tambak Berkah Jaya", "Tambak Tirta Bahari", "Tambak Laut Biru",
	"Tambak Samudra Jaya", "Tambak Pantai Indah", "Tambak Bintang Laut",
}

var farmLocations = []string{
	"Sidoarjo, Jawa Timur", "Gresik, Jawa Timur", "Lampung Selatan, Lampung",
	"Tuban, Jawa Timur", "Brebes, Jawa Tengah", "Kendal, Jawa Tengah",
	"Demak, Jawa Tengah", "Pati, Jawa Tengah", "Banyuwangi, Jawa Timur",
	"Situbondo, Jawa Timur",
}

var farmOwners = []string{
	"Budi Santoso", "Ahmad Wijaya", "Siti Rahayu", "Hendra Kusuma",
	"Dewi Lestari", "Agus Priyanto", "Nur Hidayah", "Bambang Sutopo",
	"Ratna Sari", "Eko Prasetyo",
}

func seedFarms(ctx context.Context, svc *core.Service, rng *rand.Rand) ([]domain.Farm, error) {
	farms := make([]domain.Farm, 0, len(farmNames))
	for _, name := range farmNames {
		node, _, err := svc.CreateNode(ctx, domain.Node{Name: name, Type: domain.NodeFarm})
		if err != nil {
			return nil, fmt.Errorf("create farm node %s: %w", name, err)
		}
		farm, _, err := svc.CreateFarm(ctx, domain.Farm{
			NodeID:    &node.ID,
			Name:      name,
			Location:  farmLocations[rng.Intn(len(farmLocations))],
			OwnerName: farmOwners[rng.Intn(len(farmOwners))],
		})
		if err != nil {
			return nil, fmt.Errorf("create farm %s: %w", name, err)
		}
		farms = append(farms, farm)
	}
	return farms, nil
}

func seedPondLogs(ctx context.Context, svc *core.Service, rng *rand.Rand, farms []domain.Farm) error {
	feedTypes := []string{"Pelet Komersial", "Pelet Khusus", "Natural Feed"}
	chemicals := []string{"Probiotik", "Kapur", "Tidak ada", "Vitamin C"}
	count := 0
	for _, farm := range farms {
		logs := 5 + rng.Intn(6)
		for i := 0; i < logs; i++ {
			ph := round2(7.0 + rng.Float64()*1.5)
			temp := round2(26.0 + rng.Float64()*6.0)
			salinity := round2(15.0 + rng.Float64()*15.0)
			_, _, err := svc.RecordPondLog(ctx, domain.PondLog{
				FarmID:        farm.ID,
				Date:          time.Now().UTC().AddDate(0, 0, -rng.Intn(180)),
				PH:            &ph,
				TemperatureC:  &temp,
				SalinityPPT:   &salinity,
				FeedType:      feedTypes[rng.Intn(len(feedTypes))],
				ChemicalsUsed: chemicals[rng.Intn(len(chemicals))],
			})
			if err != nil {
				return fmt.Errorf("record pond log for %s: %w", farm.Name, err)
			}
			count++
		}
	}
	fmt.Printf("created %d pond logs\n", count)
	return nil
}

func seedLots(ctx context.Context, svc *core.Service, rng *rand.Rand, farms []domain.Farm, count int) ([]domain.Lot, error) {
	lots := make([]domain.Lot, 0, count)
	year := time.Now().UTC().Year()
	for i := 0; i < count; i++ {
		farm := farms[rng.Intn(len(farms))]
		harvest := time.Now().UTC().AddDate(0, 0, -(1 + rng.Intn(180)))
		lot, _, err := svc.CreateLot(ctx, domain.Lot{
			Code:        fmt.Sprintf("LOT-%d-%04d", year, i+1),
			FarmID:      &farm.ID,
			HarvestDate: &harvest,
			VolumeKg:    round2(500 + rng.Float64()*2500),
		})
		if err != nil {
			return nil, fmt.Errorf("create lot %d: %w", i+1, err)
		}
		lots = append(lots, lot)
	}
	return lots, nil
}

func seedMovements(ctx context.Context, svc *core.Service, rng *rand.Rand, lots []domain.Lot, nodes chainNodes) error {
	count := 0
	for _, lot := range lots {
		base := *lot.HarvestDate
		hops := []struct {
			node  domain.Node
			delay time.Duration
			share float64
		}{
			{nodes.collectors[rng.Intn(len(nodes.collectors))], time.Duration(6+rng.Intn(18)) * time.Hour, 1.0},
			{nodes.processors[rng.Intn(len(nodes.processors))], time.Duration(24+rng.Intn(48)) * time.Hour, 0.85 + rng.Float64()*0.10},
		}
		if rng.Float64() > 0.3 {
			hops = append(hops, struct {
				node  domain.Node
				delay time.Duration
				share float64
			}{nodes.exporters[rng.Intn(len(nodes.exporters))], time.Duration(72+rng.Intn(96)) * time.Hour, 0.75 + rng.Float64()*0.10})
		}
		for _, hop := range hops {
			_, _, err := svc.RecordMovement(ctx, domain.LotMovement{
				LotID:      lot.ID,
				NodeID:     hop.node.ID,
				Timestamp:  base.Add(hop.delay),
				QuantityKg: round2(lot.VolumeKg * hop.share),
			})
			if err != nil {
				return fmt.Errorf("record movement for %s: %w", lot.Code, err)
			}
			count++
		}
	}
	fmt.Printf("created %d movements\n", count)
	return nil
}

// seedLabWork samples roughly 60% of the lots and attaches 3-5 lab tests per
// sampling. About a fifth of the sampled lots receive a failing result so the
// dataset spans all three risk bands.
func seedLabWork(ctx context.Context, svc *core.Service, rng *rand.Rand, lots []domain.Lot) error {
	params := []struct {
		name  string
		unit  string
		limit float64
	}{
		{"E.coli", "MPN/g", 3},
		{"Salmonella", "MPN/g", 0},
		{"Merkuri (Hg)", "ppm", 0.5},
		{"Timbal (Pb)", "ppm", 0.2},
		{"Kadmium (Cd)", "ppm", 0.1},
		{"ALT", "CFU/g", 500000},
	}
	samplings, tests := 0, 0
	for _, lot := range lots {
		if rng.Float64() > 0.6 {
			continue
		}
		sampling, _, err := svc.RecordSampling(ctx, domain.Sampling{
			LotID:       lot.ID,
			Date:        lot.HarvestDate.AddDate(0, 0, 1+rng.Intn(4)),
			RequestedBy: "Quality Control Team",
			Status:      domain.SamplingSentToLab,
		})
		if err != nil {
			return fmt.Errorf("record sampling for %s: %w", lot.Code, err)
		}
		samplings++

		dirty := rng.Float64() < 0.2
		n := 3 + rng.Intn(3)
		for j := 0; j < n && j < len(params); j++ {
			param := params[(rng.Intn(len(params))+j)%len(params)]
			value := round3(param.limit * rng.Float64() * 0.8)
			result := domain.ResultPass
			if dirty && j == 0 {
				value = round3(param.limit*1.2 + rng.Float64())
				result = domain.ResultFail
			}
			limit := param.limit
			_, _, err := svc.RecordLabTest(ctx, domain.LabTest{
				SamplingID: sampling.ID,
				Parameter:  param.name,
				Value:      &value,
				Unit:       param.unit,
				LimitValue: &limit,
				Result:     result,
			})
			if err != nil {
				return fmt.Errorf("record lab test for %s: %w", lot.Code, err)
			}
			tests++
		}
	}
	fmt.Printf("created %d samplings with %d lab tests\n", samplings, tests)
	return nil
}

func seedDocuments(ctx context.Context, svc *core.Service, rng *rand.Rand, farms []domain.Farm) error {
	issuers := []string{"BPOM", "Kementerian KKP", "ISO Certification"}
	count := 0
	for _, farm := range farms[:10] {
		issueDate := time.Now().UTC().AddDate(0, 0, -(30 + rng.Intn(335)))
		expiry := issueDate.AddDate(1, 0, 0)
		content := fmt.Sprintf("Sertifikat budidaya untuk %s, %s.\nPemilik: %s\n", farm.Name, farm.Location, farm.OwnerName)
		_, _, err := svc.AttachDocument(ctx, domain.Document{
			Type:       domain.DocFarmCert,
			Title:      fmt.Sprintf("Sertifikat %s - %d", farm.Name, issueDate.Year()),
			FarmID:     &farm.ID,
			IssuedBy:   issuers[rng.Intn(len(issuers))],
			IssueDate:  issueDate,
			ExpiryDate: &expiry,
		}, strings.NewReader(content), "text/plain")
		if err != nil {
			return fmt.Errorf("attach document for %s: %w", farm.Name, err)
		}
		count++
	}
	fmt.Printf("created %d documents\n", count)
	return nil
}

// seedIncidents reports incidents against lots the lab already flagged, with
// one or two related lots each, and closes about a third of them.
func seedIncidents(ctx context.Context, svc *core.Service, rng *rand.Rand, lots []domain.Lot) error {
	descriptions := []string{
		"Lot ditolak oleh buyer karena hasil lab tidak memenuhi standar.",
		"Kontaminasi terdeteksi saat inspeksi rutin.",
		"Buyer melaporkan kualitas tidak sesuai spesifikasi.",
		"Hasil uji lab menunjukkan parameter melebihi batas aman.",
	}
	types := []domain.IncidentType{domain.IncidentExportReject, domain.IncidentLabFail, domain.IncidentComplaint}

	var flagged []domain.Lot
	for _, lot := range svc.ListLots() {
		if lot.Problematic() {
			flagged = append(flagged, lot)
		}
	}
	count := 0
	for i, lot := range flagged {
		if count >= 10 {
			break
		}
		var related []string
		for _, other := range flagged {
			if other.ID != lot.ID && len(related) < 1+rng.Intn(2) {
				related = append(related, other.ID)
			}
		}
		incident, _, err := svc.ReportIncident(ctx, domain.Incident{
			LotID:         lot.ID,
			Type:          types[rng.Intn(len(types))],
			Description:   descriptions[rng.Intn(len(descriptions))],
			Date:          lot.HarvestDate.AddDate(0, 0, 5+rng.Intn(10)),
			RelatedLotIDs: related,
		})
		if err != nil {
			return fmt.Errorf("report incident for %s: %w", lot.Code, err)
		}
		if i%3 == 2 {
			if _, _, err := svc.CloseIncident(ctx, incident.ID); err != nil {
				return fmt.Errorf("close incident: %w", err)
			}
		}
		count++
	}
	fmt.Printf("created %d incidents\n", count)
	return nil
}

func round2(v float64) float64 { return float64(int(v*100)) / 100 }
func round3(v float64) float64 { return float64(int(v*1000)) / 1000 }
